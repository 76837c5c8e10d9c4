package clogger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/mozilla/clogger"
)

// TestDeleterCascadesIntoExternalTables seeds a log plus matching
// annotations/latestFileMod rows, schedules a full sweep with a tiny
// retention window, and checks that retired revisions are cascaded out of
// both external tables before being dropped from the log itself.
func TestDeleterCascadesIntoExternalTables(t *testing.T) {
	store := newFakeLogStore()
	tables := newFakeTables()
	ctx := context.Background()

	const total = 20
	rows := make([]clogger.LogRow, total)
	for i := 0; i < total; i++ {
		revision := fmt.Sprintf("%012d", i+1)
		rows[i] = clogger.LogRow{Revnum: int64(i + 1), Revision: revision, Timestamp: -1}
		tables.annotations[revision] = true
		tables.latestFileMod[revision] = []string{"file-" + revision}
	}
	require.NoError(t, store.InsertBatch(ctx, rows))

	fetcher := newFakeFetcher([]string{fmt.Sprintf("%012d", total)}, 1)

	config := testConfig()
	config.MinPermanent = 5
	config.MaxNonPermanent = 5
	config.DisableTipFilling = true
	config.DisableBackfilling = true
	config.DisableMaintenance = false
	config.DisableDeletion = false

	cl, errE := clogger.New(ctx, store, fetcher, tables, nil, "default", config, zerolog.Nop())
	require.NoError(t, errE, "% -+#.1v", errE)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = cl.Run(runCtx) }()

	// Only the newest MinPermanent+MaxNonPermanent = 10 rows should survive.
	require.Eventually(t, func() bool {
		count, errE := store.RowCount(ctx)
		return errE == nil && count == config.MinPermanent+config.MaxNonPermanent
	}, 2*time.Second, 10*time.Millisecond)

	remaining, errE := store.All(ctx)
	require.NoError(t, errE, "% -+#.1v", errE)
	for _, row := range remaining {
		assert.GreaterOrEqual(t, row.Revision, fmt.Sprintf("%012d", int64(total)-(config.MinPermanent+config.MaxNonPermanent)+1))
	}

	oldest := fmt.Sprintf("%012d", 1)
	tables.mu.Lock()
	_, stillAnnotated := tables.annotations[oldest]
	_, stillFrontier := tables.latestFileMod[oldest]
	tables.mu.Unlock()
	assert.False(t, stillAnnotated, "annotation for retired revision should be cascaded away")
	assert.False(t, stillFrontier, "frontier row for retired revision should be cascaded away")
}
