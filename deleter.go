package clogger

import (
	"context"
	"time"

	"gitlab.com/tozd/go/errors"
)

// runDeleterWorker drains deletion requests, cascading each into the
// external tables before retiring rows from the log itself. It stops when
// ctx is canceled.
func (c *Clogger) runDeleterWorker(ctx context.Context) {
	ticker := time.NewTicker(c.waitTime(c.config.DeletionWaitTime))
	defer ticker.Stop()

	for {
		if c.config.DisableDeletion || c.deletionQueue.Len() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		c.drainDeletionQueue(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Clogger) drainDeletionQueue(ctx context.Context) {
	requests := c.deletionQueue.Prune()

	c.workingMutex.Lock()
	defer c.workingMutex.Unlock()

	for _, request := range requests {
		if ctx.Err() != nil {
			c.deletionQueue.Append(request)
			continue
		}

		if errE := c.deleteUpTo(ctx, request); errE != nil {
			c.logger.Warn().Err(errE).Str("boundary", request.boundary).Msg("deletion failed")
			c.deletionQueue.Append(request)
		}
	}
}

func (c *Clogger) deleteUpTo(ctx context.Context, request deletionRequest) errors.E {
	boundary, errE := c.store.LookupByRevision(ctx, request.boundary)
	if errE != nil {
		return errE
	}

	tail, errE := c.store.Tail(ctx)
	if errE != nil {
		return errE
	}

	toDelete, errE := c.store.Range(ctx, tail.Revnum, boundary.Revnum)
	if errE != nil {
		return errE
	}
	if len(toDelete) == 0 {
		return nil
	}

	revisions := make([]string, len(toDelete))
	for i, row := range toDelete {
		revisions[i] = row.Revision
	}

	existingFrontiers, errE := c.tables.ExistingFrontiers(ctx, revisions)
	if errE != nil {
		return errE
	}
	if len(existingFrontiers) > 0 {
		if errE := c.tables.DeleteFrontiers(ctx, existingFrontiers); errE != nil {
			return errE
		}
	}

	if errE := c.tables.DeleteAnnotations(ctx, revisions); errE != nil {
		return errE
	}

	if errE := c.store.DeleteByRevisions(ctx, revisions); errE != nil {
		return errE
	}

	return c.store.Compact(ctx)
}
