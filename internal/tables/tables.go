// Package tables implements the narrow read/delete contract clogger needs
// against the annotations and latestFileMod tables: subsystems this module
// does not own, but whose rows are keyed by changeset revision and must be
// cascaded into when the changeset log retires a revision.
package tables

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/mozilla/clogger/internal/logstore"
)

// Tables is a PostgreSQL-backed clogger.ExternalTables.
type Tables struct {
	dbpool *pgxpool.Pool
	schema string
}

// New wraps dbpool as a clogger.ExternalTables using the named schema.
func New(dbpool *pgxpool.Pool, schema string) *Tables {
	return &Tables{dbpool: dbpool, schema: schema}
}

// DeleteAnnotations implements clogger.ExternalTables.
func (t *Tables) DeleteAnnotations(ctx context.Context, revisions []string) errors.E {
	if len(revisions) == 0 {
		return nil
	}
	return logstore.RetryTransaction(ctx, t.dbpool, pgx.ReadWrite, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, fmt.Sprintf(
			`DELETE FROM "%s"."annotations" WHERE "revision" = ANY($1)`, t.schema,
		), revisions)
		if err != nil {
			return logstore.WithPgxError(err)
		}
		return nil
	}, nil)
}

// ExistingFrontiers implements clogger.ExternalTables.
func (t *Tables) ExistingFrontiers(ctx context.Context, revisions []string) ([]string, errors.E) {
	if len(revisions) == 0 {
		return nil, nil
	}
	var existing []string
	errE := logstore.RetryTransaction(ctx, t.dbpool, pgx.ReadOnly, func(ctx context.Context, tx pgx.Tx) errors.E {
		rows, err := tx.Query(ctx, fmt.Sprintf(
			`SELECT DISTINCT "revision" FROM "%s"."latestFileMod" WHERE "revision" = ANY($1)`, t.schema,
		), revisions)
		if err != nil {
			return logstore.WithPgxError(err)
		}
		defer rows.Close()

		for rows.Next() {
			var revision string
			if err := rows.Scan(&revision); err != nil {
				return logstore.WithPgxError(err)
			}
			existing = append(existing, revision)
		}
		return logstore.WithPgxError(rows.Err())
	}, nil)
	return existing, errE
}

// DeleteFrontiers implements clogger.ExternalTables.
func (t *Tables) DeleteFrontiers(ctx context.Context, revisions []string) errors.E {
	if len(revisions) == 0 {
		return nil
	}
	return logstore.RetryTransaction(ctx, t.dbpool, pgx.ReadWrite, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, fmt.Sprintf(
			`DELETE FROM "%s"."latestFileMod" WHERE "revision" = ANY($1)`, t.schema,
		), revisions)
		if err != nil {
			return logstore.WithPgxError(err)
		}
		return nil
	}, nil)
}

// FilesAtFrontier implements clogger.ExternalTables.
func (t *Tables) FilesAtFrontier(ctx context.Context, revision string) ([]string, errors.E) {
	var files []string
	errE := logstore.RetryTransaction(ctx, t.dbpool, pgx.ReadOnly, func(ctx context.Context, tx pgx.Tx) errors.E {
		rows, err := tx.Query(ctx, fmt.Sprintf(
			`SELECT "file" FROM "%s"."latestFileMod" WHERE "revision" = $1`, t.schema,
		), revision)
		if err != nil {
			return logstore.WithPgxError(err)
		}
		defer rows.Close()

		for rows.Next() {
			var file string
			if err := rows.Scan(&file); err != nil {
				return logstore.WithPgxError(err)
			}
			files = append(files, file)
		}
		return logstore.WithPgxError(rows.Err())
	}, nil)
	return files, errE
}

// Init creates the annotations and latestFileMod tables if they do not
// already exist. The run command calls it on every start, so a database
// without these tables gets them; existing tables are left as they are.
func (t *Tables) Init(ctx context.Context) errors.E {
	return logstore.RetryTransaction(ctx, t.dbpool, pgx.ReadWrite, func(ctx context.Context, tx pgx.Tx) errors.E {
		if errE := logstore.EnsureSchema(ctx, tx, t.schema); errE != nil {
			return errE
		}

		_, err := tx.Exec(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS "%s"."annotations" (
				"revision" char(12) NOT NULL,
				"data"     jsonb NOT NULL
			)
		`, t.schema))
		if err != nil {
			return logstore.WithPgxError(err)
		}

		_, err = tx.Exec(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS "%s"."latestFileMod" (
				"file"     text NOT NULL,
				"revision" char(12) NOT NULL,
				PRIMARY KEY ("file")
			)
		`, t.schema))
		if err != nil {
			return logstore.WithPgxError(err)
		}

		return nil
	}, nil)
}
