package clogger

import (
	"context"
	"time"

	"gitlab.com/tozd/go/errors"
)

// runMaintenanceWorker periodically enforces the permanent/non-permanent
// partition and schedules retirement of rows that have aged past the
// non-permanent retention window. It stops when ctx is canceled.
func (c *Clogger) runMaintenanceWorker(ctx context.Context) {
	ticker := time.NewTicker(c.waitTime(c.config.MaintenanceWaitTime))
	defer ticker.Stop()

	for {
		// A pending deletion request means the previous sweep's findings
		// have not been acted on yet; running again would only pile up
		// more requests for the same tail of the log.
		if c.config.DisableMaintenance || c.deletionQueue.Len() > 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		if errE := c.sweep(ctx); errE != nil {
			c.logger.Warn().Err(errE).Msg("maintenance sweep failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Clogger) sweep(ctx context.Context) errors.E {
	c.workingMutex.Lock()
	defer c.workingMutex.Unlock()

	rows, errE := c.store.All(ctx)
	if errE != nil {
		return errE
	}
	if len(rows) == 0 {
		return nil
	}

	var toUpdate []LogRow
	now := currentUnixTime()

	// rows is ordered oldest to newest; walk it newest-first so the first
	// MinPermanent rows encountered are exactly the permanent window.
	for i := len(rows) - 1; i >= 0; i-- {
		row := &rows[i]
		newestIndex := len(rows) - 1 - i
		switch {
		case int64(newestIndex) < c.config.MinPermanent:
			if !row.Permanent() {
				row.Timestamp = -1
				toUpdate = append(toUpdate, *row)
			}
		case row.Permanent():
			row.Timestamp = now
			toUpdate = append(toUpdate, *row)
		}
	}

	if len(toUpdate) > 0 {
		if errE := c.store.UpdateTimestamps(ctx, toUpdate); errE != nil {
			return errE
		}
	}

	keep := c.config.MinPermanent + c.config.MaxNonPermanent
	if int64(len(rows)) <= keep {
		return nil
	}
	overflow := rows[:int64(len(rows))-keep]

	if c.config.UpdateVeryOldFrontiers && c.frontier != nil {
		tip := rows[len(rows)-1]
		if errE := c.advanceOldFrontiers(ctx, overflow, tip.Revision); errE != nil {
			return errE
		}
	}

	newestOverflow := overflow[len(overflow)-1]
	c.deletionQueue.Append(deletionRequest{boundary: newestOverflow.Revision})

	return nil
}

// advanceOldFrontiers asks the frontier collaborator to move files still
// pinned at a revision about to be retired forward to upToRevision, and
// waits until none of overflow's revisions are referenced anymore.
func (c *Clogger) advanceOldFrontiers(ctx context.Context, overflow []LogRow, upToRevision string) errors.E {
	revisions := make([]string, len(overflow))
	for i, row := range overflow {
		revisions[i] = row.Revision
	}

	for _, revision := range revisions {
		files, errE := c.tables.FilesAtFrontier(ctx, revision)
		if errE != nil {
			return errE
		}
		if len(files) == 0 {
			continue
		}
		if errE := c.frontier.AdvanceFrontier(ctx, files, upToRevision); errE != nil {
			return errE
		}
	}

	ticker := time.NewTicker(c.waitTime(c.config.FrontierWaitTime))
	defer ticker.Stop()

	for {
		remaining, errE := c.tables.ExistingFrontiers(ctx, revisions)
		if errE != nil {
			return errE
		}
		if len(remaining) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
		}
	}
}
