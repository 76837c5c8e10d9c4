package clogger

import (
	"context"
	"time"

	"gitlab.com/tozd/go/errors"
)

// requestBackfill enqueues a request to extend the log backward far enough
// to include target. It does not block; use GetOldRevnum to block until the
// revnum is available.
func (c *Clogger) requestBackfill(target string, stamp bool) {
	c.backfillQueue.Append(backfillRequest{target: target, stamp: stamp})
}

// runBackfillWorker drains backfill requests. It stops when ctx is canceled.
func (c *Clogger) runBackfillWorker(ctx context.Context) {
	ticker := time.NewTicker(c.waitTime(c.config.BackfillWaitTime))
	defer ticker.Stop()

	for {
		if c.config.DisableBackfilling || c.backfillQueue.Len() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		c.drainBackfillQueue(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Clogger) drainBackfillQueue(ctx context.Context) {
	requests := c.backfillQueue.Prune()

	c.workingMutex.Lock()
	defer c.workingMutex.Unlock()

	for _, request := range requests {
		if ctx.Err() != nil {
			// Put everything we have not processed yet back on the queue.
			c.backfillQueue.Append(request)
			continue
		}

		_, errE := c.store.LookupByRevision(ctx, request.target)
		if errE == nil {
			// Another request (or the tip worker) already brought it in.
			continue
		}
		if !errors.Is(errE, ErrNoRows) {
			c.logger.Warn().Err(errE).Str("target", request.target).Msg("backfill lookup failed")
			c.backfillQueue.Append(request)
			continue
		}

		tail, errE := c.store.Tail(ctx)
		if errE != nil {
			c.logger.Warn().Err(errE).Msg("backfill could not determine tail")
			c.backfillQueue.Append(request)
			continue
		}

		_, errE = c.fill(ctx, fillBoundary{Revision: request.target}, tail.Revision, request.stamp, false)
		if errE != nil {
			c.logger.Warn().Err(errE).Str("target", request.target).Msg("backfill fill failed")
			c.backfillQueue.Append(request)
			continue
		}
	}
}
