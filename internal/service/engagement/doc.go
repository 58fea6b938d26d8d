// Package engagement turns tracking captures into engagement events and
// recipient state.
//
// The Recorder resolves a capture's tracking token, appends the event to the
// log and folds it into the recipient's state in one atomic datastore
// operation. It depends on the repository interfaces defined in this
// package; implementations live in repository/postgres/, repository/memory/
// and repository/dynamo/ (token lookups only).
package engagement
