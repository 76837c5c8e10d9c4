package clogger

import (
	"context"
	"time"

	"gitlab.com/tozd/go/errors"
)

// runTipWorker periodically extends the log forward to the remote tip. It
// stops when ctx is canceled.
func (c *Clogger) runTipWorker(ctx context.Context) {
	ticker := time.NewTicker(c.waitTime(c.config.TipWaitTime))
	defer ticker.Stop()

	for {
		if c.config.DisableTipFilling {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		updated, errE := c.updateTip(ctx)
		if errE != nil {
			c.logger.Warn().Err(errE).Msg("tip update failed")
		}

		if updated {
			// A tick's worth of new history might mean there is more
			// still to fetch; retry immediately instead of waiting out
			// the full cadence.
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// updateTip compares the remote tip to the locally-known tip and, if they
// differ, fills forward to close the gap. It reports whether it made any
// change.
func (c *Clogger) updateTip(ctx context.Context) (bool, errors.E) {
	page, errE := c.fetcher.FetchPage(ctx, "tip")
	if errE != nil {
		return false, errors.Wrapf(errE, "fetching tip")
	}
	if len(page) == 0 {
		return false, errors.Errorf("empty tip page")
	}
	remoteTip := page[0].Revision

	knownTip, errE := c.store.Tip(ctx)
	if errE != nil && !errors.Is(errE, ErrNoRows) {
		return false, errE
	}

	if errE == nil && knownTip.Revision == remoteTip {
		return false, nil
	}

	c.workingMutex.Lock()
	defer c.workingMutex.Unlock()
	c.atTip.Store(false)
	defer c.atTip.Store(true)

	if errors.Is(errE, ErrNoRows) {
		// The store is empty: bootstrap a permanent window from tip
		// instead of looking for a specific known changeset.
		_, errE := c.fill(ctx, fillBoundary{Count: c.config.MinPermanent}, "tip", false, true)
		if errE != nil {
			return false, errE
		}
		return true, nil
	}

	_, errE = c.fill(ctx, fillBoundary{Revision: knownTip.Revision}, "tip", false, true)
	if errE != nil {
		return false, errE
	}
	return true, nil
}

// waitTime returns d unless it is non-positive, in which case it returns a
// small positive duration — guards against a zero-valued test configuration
// spinning a ticker tight loop.
func (c *Clogger) waitTime(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Millisecond
	}
	return d
}
