package clogger

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// Clogger maintains a persistent, densely numbered local window over a
// remote changelog. Construct it with New, then call Run to start its four
// background workers; use RangeOf concurrently with Run to resolve
// changeset pairs into ordered ranges.
type Clogger struct {
	store    LogStore
	fetcher  Fetcher
	tables   ExternalTables
	frontier FrontierAdvancer // nil unless config.UpdateVeryOldFrontiers

	branch string
	config WorkersConfig
	logger zerolog.Logger

	// workingMutex serializes every operation that mutates the log's
	// contents or numbering: the critical sections of the tip, backfill,
	// maintenance, and deleter workers.
	workingMutex sync.Mutex

	backfillQueue lockableSlice[backfillRequest]
	deletionQueue lockableSlice[deletionRequest]

	atTip atomic.Bool
}

// New constructs a Clogger and, if the store holds fewer than MinPermanent
// rows, runs one tip update first; on an empty store that update bootstraps
// an initial permanent window fetched from tip.
func New(
	ctx context.Context, store LogStore, fetcher Fetcher, tables ExternalTables, frontier FrontierAdvancer,
	branch string, config WorkersConfig, logger zerolog.Logger,
) (*Clogger, errors.E) {
	c := &Clogger{
		store:    store,
		fetcher:  fetcher,
		tables:   tables,
		frontier: frontier,
		branch:   branch,
		config:   config,
		logger:   logger,
	}
	c.atTip.Store(true)

	count, err := store.RowCount(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if count < config.MinPermanent {
		c.logger.Info().Int64("rows", count).Msg("bootstrapping changeset log")
		_, errE := c.updateTip(ctx)
		if errE != nil {
			return nil, errE
		}
	}

	return c, nil
}
