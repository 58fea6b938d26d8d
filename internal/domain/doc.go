// Package domain defines the core engagement types shared by the tracking
// edge, the recorder, the repositories and the analytics aggregator.
//
// Types in this package are pure value objects with no database
// dependencies and no HTTP concerns. They are the shared language between
// handlers, services, and repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON tags are allowed (they're metadata, not behavior)
//   - Pure functions on the types are allowed (state transitions, validation)
//   - Constants and enums belong here
package domain
