package clogger

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/mozilla/clogger/internal/hg"
	"gitlab.com/mozilla/clogger/internal/logstore"
	"gitlab.com/mozilla/clogger/internal/tables"
	"gitlab.com/mozilla/clogger/internal/tuid"
)

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

var schemaContextKey = &contextKey{"schema"} //nolint:gochecknoglobals

// userAgent identifies this program to upstream HTTP services it talks to.
const userAgent = "clogger (https://gitlab.com/mozilla/clogger)"

func getRequest(globals *Globals) func(context.Context) (string, string) {
	return func(ctx context.Context) (string, string) {
		schema, ok := ctx.Value(schemaContextKey).(string)
		if !ok {
			schema = globals.Postgres.Schema
		}
		return schema, uuid.New().String()
	}
}

// Run wires up the changeset log store, external tables, changelog
// fetcher, and optional frontier collaborator, then runs the four
// background workers until interrupted.
func (c *RunCommand) Run(globals *Globals) errors.E {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx = context.WithValue(ctx, schemaContextKey, globals.Postgres.Schema)

	dbpool, errE := logstore.InitPostgres(ctx, string(globals.Postgres.URL), globals.Logger, getRequest(globals))
	if errE != nil {
		return errE
	}

	store := logstore.New(dbpool, globals.Postgres.Schema)
	if errE := store.Init(ctx); errE != nil {
		return errE
	}

	externalTables := tables.New(dbpool, globals.Postgres.Schema)
	if errE := externalTables.Init(ctx); errE != nil {
		return errE
	}

	fetcher, errE := hg.New(globals.Hg.URL, globals.Hg.Branch, userAgent, globals.Hg.Cache, globals.Logger)
	if errE != nil {
		return errE
	}

	var frontier FrontierAdvancer
	if globals.Workers.UpdateVeryOldFrontiers {
		if globals.Tuid.URL == "" {
			return errors.Errorf("workers.updateVeryOldFrontiers requires tuid.url to be set")
		}
		frontier = tuid.New(globals.Tuid.URL, userAgent)
	}

	cl, errE := New(ctx, store, fetcher, externalTables, frontier, globals.Hg.Branch, globals.Workers, globals.Logger)
	if errE != nil {
		return errE
	}

	return cl.Run(ctx)
}
