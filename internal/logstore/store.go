// Package logstore is the PostgreSQL-backed implementation of the
// changeset log: a dense, ordered table of (revnum, revision, timestamp)
// rows, plus the transactional and connection-pool infrastructure it runs
// on.
package logstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gitlab.com/tozd/go/errors"

	"gitlab.com/mozilla/clogger"
)

// Store is a PostgreSQL-backed clogger.LogStore.
type Store struct {
	dbpool *pgxpool.Pool
	schema string
}

// New wraps dbpool as a clogger.LogStore using the named schema. Call Init
// once per schema before using it.
func New(dbpool *pgxpool.Pool, schema string) *Store {
	return &Store{dbpool: dbpool, schema: schema}
}

// Init creates the schema and the csetLog table if they do not already exist.
func (s *Store) Init(ctx context.Context) errors.E {
	return RetryTransaction(ctx, s.dbpool, pgx.ReadWrite, func(ctx context.Context, tx pgx.Tx) errors.E {
		if errE := EnsureSchema(ctx, tx, s.schema); errE != nil {
			return errE
		}

		_, err := tx.Exec(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS "%s"."csetLog" (
				"revnum"    bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
				"revision"  char(12) NOT NULL UNIQUE,
				"timestamp" bigint NOT NULL
			)
		`, s.schema))
		if err != nil {
			return WithPgxError(err)
		}

		return nil
	}, nil)
}

func (s *Store) table() string {
	return fmt.Sprintf(`"%s"."csetLog"`, s.schema)
}

// InsertBatch implements clogger.LogStore.
func (s *Store) InsertBatch(ctx context.Context, rows []clogger.LogRow) errors.E {
	if len(rows) == 0 {
		return nil
	}

	return RetryTransaction(ctx, s.dbpool, pgx.ReadWrite, func(ctx context.Context, tx pgx.Tx) errors.E {
		for _, row := range rows {
			_, err := tx.Exec(ctx, fmt.Sprintf(
				`INSERT INTO %s ("revnum", "revision", "timestamp") OVERRIDING SYSTEM VALUE VALUES ($1, $2, $3) ON CONFLICT ("revision") DO NOTHING`,
				s.table(),
			), row.Revnum, row.Revision, row.Timestamp)
			if err != nil {
				return WithPgxError(err)
			}
		}
		return nil
	}, nil)
}

// Compact implements clogger.LogStore. It rebuilds the table in current
// revnum order into a temp table whose identity column assigns 1..N, then
// swaps it into place.
func (s *Store) Compact(ctx context.Context) errors.E {
	return RetryTransaction(ctx, s.dbpool, pgx.ReadWrite, func(ctx context.Context, tx pgx.Tx) errors.E {
		schema := s.schema

		_, err := tx.Exec(ctx, fmt.Sprintf(`
			CREATE TABLE "%s"."csetLog_compact" (
				"revnum"    bigint GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
				"revision"  char(12) NOT NULL UNIQUE,
				"timestamp" bigint NOT NULL
			)
		`, schema))
		if err != nil {
			return WithPgxError(err)
		}

		_, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO "%s"."csetLog_compact" ("revision", "timestamp")
			SELECT "revision", "timestamp" FROM "%s"."csetLog" ORDER BY "revnum" ASC
		`, schema, schema))
		if err != nil {
			return WithPgxError(err)
		}

		_, err = tx.Exec(ctx, fmt.Sprintf(`DROP TABLE "%s"."csetLog"`, schema))
		if err != nil {
			return WithPgxError(err)
		}

		_, err = tx.Exec(ctx, fmt.Sprintf(`ALTER TABLE "%s"."csetLog_compact" RENAME TO "csetLog"`, schema))
		if err != nil {
			return WithPgxError(err)
		}

		return nil
	}, nil)
}

// Tip implements clogger.LogStore.
func (s *Store) Tip(ctx context.Context) (clogger.LogRow, errors.E) {
	return s.one(ctx, fmt.Sprintf(`SELECT "revnum", "revision", "timestamp" FROM %s ORDER BY "revnum" DESC LIMIT 1`, s.table()))
}

// Tail implements clogger.LogStore.
func (s *Store) Tail(ctx context.Context) (clogger.LogRow, errors.E) {
	return s.one(ctx, fmt.Sprintf(`SELECT "revnum", "revision", "timestamp" FROM %s ORDER BY "revnum" ASC LIMIT 1`, s.table()))
}

// LookupByRevision implements clogger.LogStore.
func (s *Store) LookupByRevision(ctx context.Context, revision string) (clogger.LogRow, errors.E) {
	return s.one(ctx, fmt.Sprintf(
		`SELECT "revnum", "revision", "timestamp" FROM %s WHERE "revision" = $1`, s.table(),
	), revision)
}

func (s *Store) one(ctx context.Context, query string, args ...any) (clogger.LogRow, errors.E) {
	var row clogger.LogRow
	errE := RetryTransaction(ctx, s.dbpool, pgx.ReadOnly, func(ctx context.Context, tx pgx.Tx) errors.E {
		err := tx.QueryRow(ctx, query, args...).Scan(&row.Revnum, &row.Revision, &row.Timestamp)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errors.WithStack(clogger.ErrNoRows)
			}
			return WithPgxError(err)
		}
		return nil
	}, nil)
	if errE != nil {
		return clogger.LogRow{}, errE
	}
	return row, nil
}

// Range implements clogger.LogStore.
func (s *Store) Range(ctx context.Context, lo, hi int64) ([]clogger.LogRow, errors.E) {
	var rows []clogger.LogRow
	errE := RetryTransaction(ctx, s.dbpool, pgx.ReadOnly, func(ctx context.Context, tx pgx.Tx) errors.E {
		query := fmt.Sprintf(
			`SELECT "revnum", "revision", "timestamp" FROM %s WHERE "revnum" BETWEEN $1 AND $2 ORDER BY "revnum" ASC`,
			s.table(),
		)
		result, err := tx.Query(ctx, query, lo, hi)
		if err != nil {
			return WithPgxError(err)
		}
		defer result.Close()

		for result.Next() {
			var row clogger.LogRow
			if err := result.Scan(&row.Revnum, &row.Revision, &row.Timestamp); err != nil {
				return WithPgxError(err)
			}
			rows = append(rows, row)
		}
		return WithPgxError(result.Err())
	}, nil)
	return rows, errE
}

// All implements clogger.LogStore.
func (s *Store) All(ctx context.Context) ([]clogger.LogRow, errors.E) {
	var rows []clogger.LogRow
	errE := RetryTransaction(ctx, s.dbpool, pgx.ReadOnly, func(ctx context.Context, tx pgx.Tx) errors.E {
		query := fmt.Sprintf(`SELECT "revnum", "revision", "timestamp" FROM %s ORDER BY "revnum" ASC`, s.table())
		result, err := tx.Query(ctx, query)
		if err != nil {
			return WithPgxError(err)
		}
		defer result.Close()

		for result.Next() {
			var row clogger.LogRow
			if err := result.Scan(&row.Revnum, &row.Revision, &row.Timestamp); err != nil {
				return WithPgxError(err)
			}
			rows = append(rows, row)
		}
		return WithPgxError(result.Err())
	}, nil)
	return rows, errE
}

// UpdateTimestamps implements clogger.LogStore.
func (s *Store) UpdateTimestamps(ctx context.Context, rows []clogger.LogRow) errors.E {
	if len(rows) == 0 {
		return nil
	}
	return RetryTransaction(ctx, s.dbpool, pgx.ReadWrite, func(ctx context.Context, tx pgx.Tx) errors.E {
		for _, row := range rows {
			_, err := tx.Exec(ctx, fmt.Sprintf(
				`UPDATE %s SET "timestamp" = $1 WHERE "revision" = $2`, s.table(),
			), row.Timestamp, row.Revision)
			if err != nil {
				return WithPgxError(err)
			}
		}
		return nil
	}, nil)
}

// DeleteByRevisions implements clogger.LogStore.
func (s *Store) DeleteByRevisions(ctx context.Context, revisions []string) errors.E {
	if len(revisions) == 0 {
		return nil
	}
	return RetryTransaction(ctx, s.dbpool, pgx.ReadWrite, func(ctx context.Context, tx pgx.Tx) errors.E {
		_, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "revision" = ANY($1)`, s.table()), revisions)
		if err != nil {
			return WithPgxError(err)
		}
		return nil
	}, nil)
}

// RowCount implements clogger.LogStore.
func (s *Store) RowCount(ctx context.Context) (int64, errors.E) {
	var count int64
	errE := RetryTransaction(ctx, s.dbpool, pgx.ReadOnly, func(ctx context.Context, tx pgx.Tx) errors.E {
		err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, s.table())).Scan(&count)
		if err != nil {
			return WithPgxError(err)
		}
		return nil
	}, nil)
	return count, errE
}
