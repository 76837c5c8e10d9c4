package clogger

import (
	"context"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/errgroup"
)

// Run starts the tip, backfill, maintenance, and deleter workers and blocks
// until ctx is canceled, then waits for all four to finish their current
// iteration before returning.
func (c *Clogger) Run(ctx context.Context) errors.E {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.runTipWorker(ctx)
		return nil
	})
	g.Go(func() error {
		c.runBackfillWorker(ctx)
		return nil
	})
	g.Go(func() error {
		c.runMaintenanceWorker(ctx)
		return nil
	})
	g.Go(func() error {
		c.runDeleterWorker(ctx)
		return nil
	})

	return errors.WithStack(g.Wait())
}
