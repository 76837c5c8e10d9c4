package clogger

import (
	"context"

	"gitlab.com/tozd/go/errors"
)

// LogRow is one row of the changeset log: a dense local sequence number,
// the 12-character changeset identifier it names, and a retention timestamp.
//
// Timestamp is -1 for permanent rows (retention governed by count, not age)
// and otherwise the wall-clock second at which the row became eligible for
// age-based retention.
type LogRow struct {
	Revnum    int64
	Revision  string
	Timestamp int64
}

// Permanent reports whether the row is exempt from age-based retention.
func (r LogRow) Permanent() bool {
	return r.Timestamp == -1
}

// LogStore is the transactional backing store for the changeset log.
//
// Every method is expected to run in its own transaction (or to join an
// ambient one, for implementations that support nesting); callers needing
// cross-call atomicity serialize through Clogger's working mutex instead of
// relying on the store to lock across calls.
type LogStore interface {
	// InsertBatch inserts rows with their given Revnum values, skipping any
	// row whose Revision already exists. Revnums need not be dense or even
	// positive at this point — fill assigns provisional values (ascending
	// from the current tip, or descending negative ones, depending on
	// direction) and always follows an InsertBatch with a Compact.
	InsertBatch(ctx context.Context, rows []LogRow) errors.E

	// Compact renumbers all rows densely, preserving their relative order,
	// so that revnums become a contiguous range starting at 1.
	Compact(ctx context.Context) errors.E

	// Tip returns the row with the largest revnum, or ErrNoRows if empty.
	Tip(ctx context.Context) (LogRow, errors.E)

	// Tail returns the row with the smallest revnum, or ErrNoRows if empty.
	Tail(ctx context.Context) (LogRow, errors.E)

	// LookupByRevision returns the row for revision, or ErrNoRows if absent.
	LookupByRevision(ctx context.Context, revision string) (LogRow, errors.E)

	// Range returns all rows with lo <= revnum <= hi, ordered by revnum.
	Range(ctx context.Context, lo, hi int64) ([]LogRow, errors.E)

	// All returns every row, ordered by revnum.
	All(ctx context.Context) ([]LogRow, errors.E)

	// UpdateTimestamps bulk-updates the timestamp of existing rows, matched
	// by Revision. Rows naming a revision not present are ignored.
	UpdateTimestamps(ctx context.Context, rows []LogRow) errors.E

	// DeleteByRevisions removes rows naming any of revisions. It does not
	// itself compact; callers call Compact afterward.
	DeleteByRevisions(ctx context.Context, revisions []string) errors.E

	// RowCount returns the number of resident rows.
	RowCount(ctx context.Context) (int64, errors.E)
}

// ChangesetRecord is one entry of a changelog page, as yielded by Fetcher.
type ChangesetRecord struct {
	// Revision is the first 12 characters of the changeset's node id.
	Revision string
}

// Fetcher pages through the remote changelog.
type Fetcher interface {
	// FetchPage returns the page of changeset records beginning at cursor,
	// newest first. cursor is either a 12-character changeset id or "tip".
	// The last element of the returned slice is the continuation cursor for
	// the next call. Implementations retry transient failures internally;
	// an error returned here is final for the current fill attempt.
	FetchPage(ctx context.Context, cursor string) ([]ChangesetRecord, errors.E)
}

// ExternalTables is the narrow, delete-and-existence-only contract the
// deleter and maintenance workers need from tables owned by other
// subsystems but keyed by changeset revision.
type ExternalTables interface {
	// DeleteAnnotations removes annotation rows naming any of revisions.
	DeleteAnnotations(ctx context.Context, revisions []string) errors.E

	// ExistingFrontiers returns, among revisions, those that still have at
	// least one latestFileMod row pointing at them.
	ExistingFrontiers(ctx context.Context, revisions []string) ([]string, errors.E)

	// DeleteFrontiers removes latestFileMod rows naming any of revisions.
	DeleteFrontiers(ctx context.Context, revisions []string) errors.E

	// FilesAtFrontier returns the files whose latestFileMod row still names
	// revision, for the optional frontier-advance path (see FrontierAdvancer).
	FilesAtFrontier(ctx context.Context, revision string) ([]string, errors.E)
}

// FrontierAdvancer is the optional collaborator behind the
// UpdateVeryOldFrontiers configuration flag (disabled by default). It asks an
// external identity-tracking service to recompute its per-line frontier for
// files still pinned at a revision about to be retired.
type FrontierAdvancer interface {
	AdvanceFrontier(ctx context.Context, files []string, upToRevision string) errors.E
}
