package clogger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gitlab.com/mozilla/clogger"
)

// TestMaintenanceSweepPartitionsPermanentWindow seeds rows as if a
// large history had already accumulated, then runs maintenance alone
// (tip-following, backfill, and deletion disabled) and checks the
// permanent/non-permanent split settles to MinPermanent rows.
func TestMaintenanceSweepPartitionsPermanentWindow(t *testing.T) {
	store := newFakeLogStore()
	ctx := context.Background()

	const total = 30
	rows := make([]clogger.LogRow, total)
	for i := 0; i < total; i++ {
		rows[i] = clogger.LogRow{Revnum: int64(i + 1), Revision: fmt.Sprintf("%012d", i+1), Timestamp: -1}
	}
	require.NoError(t, store.InsertBatch(ctx, rows))

	fetcher := newFakeFetcher([]string{fmt.Sprintf("%012d", total)}, 1)
	tables := newFakeTables()

	config := testConfig()
	config.MinPermanent = 5
	config.MaxNonPermanent = 10
	config.DisableTipFilling = true
	config.DisableBackfilling = true
	config.DisableDeletion = true
	config.DisableMaintenance = false

	cl, errE := clogger.New(ctx, store, fetcher, tables, nil, "default", config, zerolog.Nop())
	require.NoError(t, errE, "% -+#.1v", errE)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = cl.Run(runCtx) }()

	require.Eventually(t, func() bool {
		all, errE := store.All(ctx)
		if errE != nil {
			return false
		}
		permanent := 0
		for _, row := range all {
			if row.Permanent() {
				permanent++
			}
		}
		return permanent == int(config.MinPermanent)
	}, time.Second, 5*time.Millisecond)

	// The sweep also schedules the oldest total-(MinPermanent+MaxNonPermanent)
	// = 15 rows for deletion; with the deleter disabled they remain in the
	// store, and this test does not observe the schedule. It only checks
	// that the permanent count stays at MinPermanent.
	all, errE := store.All(ctx)
	require.NoError(t, errE, "% -+#.1v", errE)
	permanent := 0
	for _, row := range all {
		if row.Permanent() {
			permanent++
		}
	}
	require.Equal(t, int(config.MinPermanent), permanent)
}
