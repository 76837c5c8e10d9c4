package clogger_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/mozilla/clogger"
)

// TestRangeOfResolvesResidentRevisions covers the fast path: both
// endpoints are already in the store's permanent window.
func TestRangeOfResolvesResidentRevisions(t *testing.T) {
	changelog := newChangelog(10)
	fetcher := newFakeFetcher(changelog, 4)
	store := newFakeLogStore()

	config := testConfig()
	config.MinPermanent = 10

	ctx := context.Background()
	cl, errE := clogger.New(ctx, store, fetcher, newFakeTables(), nil, "default", config, zerolog.Nop())
	require.NoError(t, errE, "% -+#.1v", errE)

	rows, errE := cl.RangeOf(ctx, changelog[len(changelog)-1], changelog[0])
	require.NoError(t, errE, "% -+#.1v", errE)
	require.Len(t, rows, len(changelog))
	assert.Equal(t, changelog[len(changelog)-1], rows[0].Revision)
	assert.Equal(t, changelog[0], rows[len(rows)-1].Revision)
}

// TestRangeOfOrdersEndpointsRegardlessOfArgumentOrder checks that RangeOf
// returns the same range whichever order the two changesets are passed in.
func TestRangeOfOrdersEndpointsRegardlessOfArgumentOrder(t *testing.T) {
	changelog := newChangelog(10)
	fetcher := newFakeFetcher(changelog, 4)
	store := newFakeLogStore()

	config := testConfig()
	config.MinPermanent = 10

	ctx := context.Background()
	cl, errE := clogger.New(ctx, store, fetcher, newFakeTables(), nil, "default", config, zerolog.Nop())
	require.NoError(t, errE, "% -+#.1v", errE)

	forward, errE := cl.RangeOf(ctx, changelog[5], changelog[2])
	require.NoError(t, errE, "% -+#.1v", errE)
	backward, errE := cl.RangeOf(ctx, changelog[2], changelog[5])
	require.NoError(t, errE, "% -+#.1v", errE)

	assert.Equal(t, forward, backward)
}

// TestRangeOfTriggersBackfillForOldRevision covers the slow path: one
// endpoint predates the resident window and must be backfilled.
func TestRangeOfTriggersBackfillForOldRevision(t *testing.T) {
	changelog := newChangelog(30)
	fetcher := newFakeFetcher(changelog, 5)
	store := newFakeLogStore()

	config := testConfig()
	config.MinPermanent = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl, errE := clogger.New(ctx, store, fetcher, newFakeTables(), nil, "default", config, zerolog.Nop())
	require.NoError(t, errE, "% -+#.1v", errE)

	go func() { _ = cl.Run(ctx) }()

	oldest := changelog[len(changelog)-1]
	newest := changelog[0]

	type result struct {
		rows []clogger.LogRow
		errE error
	}
	done := make(chan result, 1)
	go func() {
		rows, errE := cl.RangeOf(ctx, oldest, newest)
		done <- result{rows, errE}
	}()

	select {
	case r := <-done:
		require.NoError(t, r.errE, "% -+#.1v", r.errE)
		assert.Equal(t, oldest, r.rows[0].Revision)
		assert.Equal(t, newest, r.rows[len(r.rows)-1].Revision)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for RangeOf to backfill")
	}
}
