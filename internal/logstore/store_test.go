package logstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/mozilla/clogger"
	"gitlab.com/mozilla/clogger/internal/logstore"
)

func initStore(t *testing.T) (context.Context, *logstore.Store) {
	t.Helper()

	if os.Getenv("POSTGRES") == "" {
		t.Skip("POSTGRES is not available")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	// A fresh schema per test, so each test starts from an empty table.
	schema := "clogger_test_" + uuid.NewString()

	dbpool, errE := logstore.InitPostgres(ctx, os.Getenv("POSTGRES"), logger, func(context.Context) (string, string) {
		return schema, "tests"
	})
	require.NoError(t, errE, "% -+#.1v", errE)

	store := logstore.New(dbpool, schema)
	require.NoError(t, store.Init(ctx), "store init")

	return ctx, store
}

func TestInsertBatchAndTip(t *testing.T) {
	ctx, store := initStore(t)

	errE := store.InsertBatch(ctx, []clogger.LogRow{
		{Revnum: 1, Revision: "000000000001", Timestamp: -1},
		{Revnum: 2, Revision: "000000000002", Timestamp: -1},
	})
	require.NoError(t, errE, "% -+#.1v", errE)

	tip, errE := store.Tip(ctx)
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, "000000000002", tip.Revision)

	tail, errE := store.Tail(ctx)
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, "000000000001", tail.Revision)
}

func TestInsertBatchIgnoresDuplicateRevisions(t *testing.T) {
	ctx, store := initStore(t)

	row := clogger.LogRow{Revnum: 1, Revision: "000000000001", Timestamp: -1}
	require.NoError(t, store.InsertBatch(ctx, []clogger.LogRow{row}))
	require.NoError(t, store.InsertBatch(ctx, []clogger.LogRow{row}))

	count, errE := store.RowCount(ctx)
	require.NoError(t, errE, "% -+#.1v", errE)
	assert.Equal(t, int64(1), count)
}

func TestCompactRenumbersDensely(t *testing.T) {
	ctx, store := initStore(t)

	require.NoError(t, store.InsertBatch(ctx, []clogger.LogRow{
		{Revnum: 5, Revision: "000000000005", Timestamp: -1},
		{Revnum: 10, Revision: "000000000010", Timestamp: -1},
		{Revnum: 20, Revision: "000000000020", Timestamp: -1},
	}))

	require.NoError(t, store.Compact(ctx))

	rows, errE := store.All(ctx)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, int64(i+1), row.Revnum)
	}
	assert.Equal(t, "000000000005", rows[0].Revision)
	assert.Equal(t, "000000000020", rows[2].Revision)
}

func TestLookupByRevisionMissingReturnsErrNoRows(t *testing.T) {
	ctx, store := initStore(t)

	_, errE := store.LookupByRevision(ctx, "does-not-exist")
	require.ErrorIs(t, errE, clogger.ErrNoRows)
}

func TestDeleteByRevisionsThenCompact(t *testing.T) {
	ctx, store := initStore(t)

	require.NoError(t, store.InsertBatch(ctx, []clogger.LogRow{
		{Revnum: 1, Revision: "000000000001", Timestamp: -1},
		{Revnum: 2, Revision: "000000000002", Timestamp: -1},
		{Revnum: 3, Revision: "000000000003", Timestamp: -1},
	}))

	require.NoError(t, store.DeleteByRevisions(ctx, []string{"000000000002"}))
	require.NoError(t, store.Compact(ctx))

	rows, errE := store.All(ctx)
	require.NoError(t, errE, "% -+#.1v", errE)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].Revnum)
	assert.Equal(t, int64(2), rows[1].Revnum)
}
