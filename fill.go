package clogger

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
	"gitlab.com/tozd/go/errors"
)

// fillBoundary tells fill when to stop paging. Exactly one field is set:
// Revision stops the fill when that changeset id is reached (used when the
// caller already knows the id, e.g. a specific backfill target or the tip
// worker's previously-known tip); Count stops it after that many new ids
// have been collected (used only for the initial bootstrap, where nothing
// is known yet but the tip worker still wants a starting window).
type fillBoundary struct {
	Revision string
	Count    int64
}

// fill extends the changeset log from a cursor already present upstream
// (the page returned for startCursor always begins with startCursor itself)
// toward boundary, in the direction forward selects, and appends newly
// discovered rows to the store. It returns how many rows it appended.
//
// Going forward (toward the remote tip), boundary is the previously-known
// tip: the fill stops once it reaches a changeset id it already has, and
// newly collected rows are inserted oldest-first with ascending revnums
// continuing from the store's current maximum.
//
// Going backward (extending history older), boundary is the target the
// caller wants included: the fill stops once it reaches that id, includes
// it, and newly collected rows are inserted with descending provisional
// negative revnums — finalized into a dense range by the Compact call that
// always follows a fill.
func (c *Clogger) fill(ctx context.Context, boundary fillBoundary, startCursor string, stamp bool, forward bool) (int, errors.E) {
	var collected []ChangesetRecord
	visited := mapset.NewThreadUnsafeSet[string]()
	cursor := startCursor
	skipFirstOfFirstPage := !forward

	for {
		if ctx.Err() != nil {
			return 0, errors.WithStack(ctx.Err())
		}
		if !visited.Add(cursor) {
			return 0, errors.WithStack(ErrBoundaryAbsent)
		}

		page, errE := c.fetcher.FetchPage(ctx, cursor)
		if errE != nil {
			return 0, errors.Wrapf(errE, "fetching page at %s", cursor)
		}
		if len(page) == 0 {
			return 0, errors.Wrapf(errors.WithStack(ErrBoundaryAbsent), "empty page at %s", cursor)
		}

		// The last entry of a page is the cursor for the next page: it is
		// repeated as that page's first entry, so we never process it here.
		// A one-entry page is the end of history: no later page repeats its
		// entry, so it is processed here.
		entries := page[:len(page)-1]
		if len(page) == 1 {
			entries = page
		}

		boundaryFound := false
		for _, entry := range entries {
			if skipFirstOfFirstPage {
				// Extending backward, the first entry we would otherwise
				// collect is the boundary row we already hold; it is the
				// overlap, not new history.
				skipFirstOfFirstPage = false
				continue
			}

			if boundary.Revision != "" {
				if entry.Revision == boundary.Revision {
					if !forward {
						// Going backward the caller owns inclusion of the
						// boundary: it becomes the new oldest row.
						collected = append(collected, entry)
					}
					boundaryFound = true
					break
				}
			} else if int64(len(collected)) >= boundary.Count {
				boundaryFound = true
				break
			}

			collected = append(collected, entry)

			if boundary.Revision == "" && int64(len(collected)) >= boundary.Count {
				boundaryFound = true
				break
			}
		}

		if boundaryFound {
			break
		}

		cursor = page[len(page)-1].Revision
	}

	return len(collected), c.addCsetEntries(ctx, collected, stamp, forward)
}

// addCsetEntries assigns revnums to newly collected entries and writes them
// through the store, then compacts. entries are in newest-first order as
// collected from paging.
func (c *Clogger) addCsetEntries(ctx context.Context, entries []ChangesetRecord, stamp, forward bool) errors.E {
	if len(entries) == 0 {
		return nil
	}

	timestamp := int64(-1)
	if stamp {
		timestamp = currentUnixTime()
	}

	rows := make([]LogRow, len(entries))
	if forward {
		tip, errE := c.store.Tip(ctx)
		if errE != nil && !errors.Is(errE, ErrNoRows) {
			return errE
		}
		nextRevnum := tip.Revnum + 1

		// Reverse to oldest-first so ascending revnums, continuing from the
		// current tip, match chronological order.
		for i, entry := range entries {
			rows[len(entries)-1-i] = LogRow{Revision: entry.Revision, Revnum: nextRevnum + int64(len(entries)-1-i), Timestamp: timestamp}
		}
	} else {
		// Already newest-to-tail order. Descending negative provisional
		// revnums only need to be distinguishable by relative order, which
		// this preserves; Compact resolves them into a dense final range.
		for i, entry := range entries {
			rows[i] = LogRow{Revision: entry.Revision, Revnum: -int64(i + 1), Timestamp: timestamp}
		}
	}

	batchSize := c.config.InsertBatchSize
	if batchSize <= 0 {
		batchSize = DefaultInsertBatchSize
	}
	for len(rows) > 0 {
		n := batchSize
		if n > len(rows) {
			n = len(rows)
		}
		if errE := c.store.InsertBatch(ctx, rows[:n]); errE != nil {
			return errE
		}
		rows = rows[n:]
	}
	if errE := c.store.Compact(ctx); errE != nil {
		return errE
	}

	tip, errE := c.store.Tip(ctx)
	if errE != nil {
		return errE
	}
	count, errE := c.store.RowCount(ctx)
	if errE != nil {
		return errE
	}
	if tip.Revnum != count {
		errE := errors.WithStack(ErrInconsistentCount)
		details := errors.Details(errE)
		details["tip"] = tip.Revnum
		details["count"] = count
		return errE
	}

	return nil
}
