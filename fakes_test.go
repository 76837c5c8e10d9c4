package clogger_test

import (
	"context"
	"sort"
	"sync"

	"gitlab.com/tozd/go/errors"

	"gitlab.com/mozilla/clogger"
)

// fakeLogStore is an in-memory clogger.LogStore, sufficient to exercise the
// fill/tip/backfill/maintenance/deleter algorithms without a database.
type fakeLogStore struct {
	mu   sync.Mutex
	rows map[string]clogger.LogRow // by revision
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{rows: map[string]clogger.LogRow{}}
}

func (s *fakeLogStore) all() []clogger.LogRow {
	rows := make([]clogger.LogRow, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Revnum < rows[j].Revnum })
	return rows
}

func (s *fakeLogStore) InsertBatch(_ context.Context, rows []clogger.LogRow) errors.E {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if _, ok := s.rows[row.Revision]; ok {
			continue
		}
		s.rows[row.Revision] = row
	}
	return nil
}

func (s *fakeLogStore) Compact(_ context.Context) errors.E {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.all()
	for i, row := range rows {
		row.Revnum = int64(i + 1)
		s.rows[row.Revision] = row
	}
	return nil
}

func (s *fakeLogStore) Tip(_ context.Context) (clogger.LogRow, errors.E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.all()
	if len(rows) == 0 {
		return clogger.LogRow{}, errors.WithStack(clogger.ErrNoRows)
	}
	return rows[len(rows)-1], nil
}

func (s *fakeLogStore) Tail(_ context.Context) (clogger.LogRow, errors.E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.all()
	if len(rows) == 0 {
		return clogger.LogRow{}, errors.WithStack(clogger.ErrNoRows)
	}
	return rows[0], nil
}

func (s *fakeLogStore) LookupByRevision(_ context.Context, revision string) (clogger.LogRow, errors.E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[revision]
	if !ok {
		return clogger.LogRow{}, errors.WithStack(clogger.ErrNoRows)
	}
	return row, nil
}

func (s *fakeLogStore) Range(_ context.Context, lo, hi int64) ([]clogger.LogRow, errors.E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []clogger.LogRow
	for _, row := range s.all() {
		if row.Revnum >= lo && row.Revnum <= hi {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeLogStore) All(_ context.Context) ([]clogger.LogRow, errors.E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.all(), nil
}

func (s *fakeLogStore) UpdateTimestamps(_ context.Context, rows []clogger.LogRow) errors.E {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if existing, ok := s.rows[row.Revision]; ok {
			existing.Timestamp = row.Timestamp
			s.rows[row.Revision] = existing
		}
	}
	return nil
}

func (s *fakeLogStore) DeleteByRevisions(_ context.Context, revisions []string) errors.E {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, revision := range revisions {
		delete(s.rows, revision)
	}
	return nil
}

func (s *fakeLogStore) RowCount(_ context.Context) (int64, errors.E) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

// fakeFetcher serves pages out of a fixed, newest-first changelog, mimicking
// the overlap-by-one-entry paging contract of the real upstream server.
type fakeFetcher struct {
	mu         sync.Mutex
	changelog  []clogger.ChangesetRecord // newest first, index 0 is tip
	pageSize   int
	fetchCount int
}

func newFakeFetcher(revisions []string, pageSize int) *fakeFetcher {
	changelog := make([]clogger.ChangesetRecord, len(revisions))
	for i, revision := range revisions {
		changelog[i] = clogger.ChangesetRecord{Revision: revision}
	}
	return &fakeFetcher{changelog: changelog, pageSize: pageSize}
}

func (f *fakeFetcher) indexOf(revision string) int {
	if revision == "tip" {
		return 0
	}
	for i, entry := range f.changelog {
		if entry.Revision == revision {
			return i
		}
	}
	return -1
}

func (f *fakeFetcher) FetchPage(_ context.Context, cursor string) ([]clogger.ChangesetRecord, errors.E) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCount++

	start := f.indexOf(cursor)
	if start < 0 {
		return nil, errors.Errorf("unknown cursor %q", cursor)
	}

	end := start + f.pageSize
	if end > len(f.changelog) {
		end = len(f.changelog)
	}
	return f.changelog[start:end], nil
}

// fakeTables is an in-memory clogger.ExternalTables.
type fakeTables struct {
	mu            sync.Mutex
	annotations   map[string]bool
	latestFileMod map[string][]string // revision -> files
}

func newFakeTables() *fakeTables {
	return &fakeTables{
		annotations:   map[string]bool{},
		latestFileMod: map[string][]string{},
	}
}

func (t *fakeTables) DeleteAnnotations(_ context.Context, revisions []string) errors.E {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, revision := range revisions {
		delete(t.annotations, revision)
	}
	return nil
}

func (t *fakeTables) ExistingFrontiers(_ context.Context, revisions []string) ([]string, errors.E) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, revision := range revisions {
		if _, ok := t.latestFileMod[revision]; ok {
			out = append(out, revision)
		}
	}
	return out, nil
}

func (t *fakeTables) DeleteFrontiers(_ context.Context, revisions []string) errors.E {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, revision := range revisions {
		delete(t.latestFileMod, revision)
	}
	return nil
}

func (t *fakeTables) FilesAtFrontier(_ context.Context, revision string) ([]string, errors.E) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latestFileMod[revision], nil
}

// fakeFrontier records every AdvanceFrontier call and, when advance is
// set, delegates the actual frontier-table mutation to it (so tests can
// simulate the remote service eventually clearing latestFileMod).
type fakeFrontier struct {
	mu      sync.Mutex
	calls   int
	advance func(files []string, upToRevision string)
}

func (f *fakeFrontier) AdvanceFrontier(_ context.Context, files []string, upToRevision string) errors.E {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.advance != nil {
		f.advance(files, upToRevision)
	}
	return nil
}
