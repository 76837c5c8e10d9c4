package clogger

import (
	"context"
	"time"

	"gitlab.com/tozd/go/errors"
)

// RangeOf resolves two changeset identifiers into the ordered range of log
// rows between them (inclusive of both). If either changeset is not yet
// resident, it triggers a tip update and, failing that, a backfill request,
// blocking until the changeset becomes available or ctx is canceled.
func (c *Clogger) RangeOf(ctx context.Context, revisionA, revisionB string) ([]LogRow, errors.E) {
	rowA, errE := c.resolveRevision(ctx, revisionA)
	if errE != nil {
		return nil, errE
	}
	rowB, errE := c.resolveRevision(ctx, revisionB)
	if errE != nil {
		return nil, errE
	}

	lo, hi := rowA.Revnum, rowB.Revnum
	if lo > hi {
		lo, hi = hi, lo
	}

	return c.store.Range(ctx, lo, hi)
}

// resolveRevision returns the row for revision, first trying a direct
// lookup, then a tip update (the revision may simply be newer than what we
// have), then falling back to a blocking backfill request.
func (c *Clogger) resolveRevision(ctx context.Context, revision string) (LogRow, errors.E) {
	row, errE := c.store.LookupByRevision(ctx, revision)
	if errE == nil {
		return row, nil
	}
	if !errors.Is(errE, ErrNoRows) {
		return LogRow{}, errE
	}

	if _, errE := c.updateTip(ctx); errE != nil {
		c.logger.Warn().Err(errE).Msg("tip update triggered by range lookup failed")
	}

	row, errE = c.store.LookupByRevision(ctx, revision)
	if errE == nil {
		return row, nil
	}
	if !errors.Is(errE, ErrNoRows) {
		return LogRow{}, errE
	}

	return c.GetOldRevnum(ctx, revision)
}

// GetOldRevnum requests a backfill to include revision and blocks until it
// appears in the store or ctx is canceled.
func (c *Clogger) GetOldRevnum(ctx context.Context, revision string) (LogRow, errors.E) {
	c.requestBackfill(revision, true)

	ticker := time.NewTicker(c.waitTime(c.config.BackfillWaitTime))
	defer ticker.Stop()

	for {
		row, errE := c.store.LookupByRevision(ctx, revision)
		if errE == nil {
			return row, nil
		}
		if !errors.Is(errE, ErrNoRows) {
			return LogRow{}, errE
		}

		select {
		case <-ctx.Done():
			return LogRow{}, errors.WithStack(ctx.Err())
		case <-ticker.C:
		}
	}
}
