package clogger

import "gitlab.com/tozd/go/errors"

// Sentinel errors describing the failure kinds a Clogger's workers can
// encounter. Callers match against these with errors.Is.
var (
	// ErrBoundaryAbsent is returned by fill when paging backward through the
	// remote changelog revisits a cursor it has already seen without ever
	// encountering the requested boundary. This happens when the upstream
	// history the fill started from has since been rewound (a non-fast-forward
	// change), so the boundary that triggered the fill no longer has an
	// ancestor path back to the current tip.
	ErrBoundaryAbsent = errors.Base("boundary absent")

	// ErrInconsistentCount is returned when, after a compact, the tip's revnum
	// does not equal the table's row count. It indicates a bug in the fill or
	// compact logic, not a transient condition, and is never retried within
	// the same iteration.
	ErrInconsistentCount = errors.Base("inconsistent revnum count")

	// ErrNoRows is returned by LogStore lookups that find nothing.
	ErrNoRows = errors.Base("no rows")
)
