// Package analytics implements the campaign analytics aggregator.
//
// A recompute is a deterministic fold over the recipient state projection
// followed by a full replace of the campaign's analytics row. Nothing is
// ever accumulated incrementally, so repeated or overlapping recomputes
// converge on the same row.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package analytics
