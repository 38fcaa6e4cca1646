package store

import "errors"

// ErrStaleCutoff is returned by UpdateSummary when the proposed cutoff
// message no longer precedes every uncompressed message of the
// conversation — a race with a concurrent AppendMessage (§4.1, §7).
var ErrStaleCutoff = errors.New("store: stale compression cutoff")

// ErrNotFound is returned when a lookup by ID finds no row.
var ErrNotFound = errors.New("store: not found")
