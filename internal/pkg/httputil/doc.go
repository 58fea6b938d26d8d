// Package httputil provides shared HTTP response/request utilities for the
// API handlers.
//
// JSON endpoints use these helpers instead of writing raw
// http.ResponseWriter calls so error envelopes stay consistent. The tracking
// edge (pixel, redirect) never uses them: its responses are fixed.
package httputil
