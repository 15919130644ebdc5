package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"myhealth-hrv/internal/models"
)

var errStoreUnavailable = errors.New("store unavailable")

// memStore 同时实现 pipeline 的 RawStore / CleanedStore / IndexStore
type memStore struct {
	mu        sync.Mutex
	raw       []models.RawSample
	cleaned   map[models.SampleKey]models.CleanedSample
	rows      map[string]models.HRVIndexRow
	failReads map[string]int // subject -> 剩余失败次数
}

func newMemStore() *memStore {
	return &memStore{
		cleaned:   make(map[models.SampleKey]models.CleanedSample),
		rows:      make(map[string]models.HRVIndexRow),
		failReads: make(map[string]int),
	}
}

func rowKey(subject models.SubjectKey, start time.Time) string {
	return subject.String() + "|" + start.UTC().Format(time.RFC3339)
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (m *memStore) rowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memStore) hasRow(subject models.SubjectKey, start time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[rowKey(subject, start)]
	return ok
}

func (m *memStore) ListSubjectsInWindow(ctx context.Context, from, to time.Time) ([]models.SubjectKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[models.SubjectKey]bool)
	var out []models.SubjectKey
	for _, s := range m.raw {
		if inRange(s.Timestamp, from, to) && !seen[s.SubjectKey] {
			seen[s.SubjectKey] = true
			out = append(out, s.SubjectKey)
		}
	}
	return out, nil
}

type rawView struct{ *memStore }

func (r rawView) ListWindow(ctx context.Context, subject models.SubjectKey, from, to time.Time) ([]models.RawSample, error) {
	m := r.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.failReads[subject.String()]; n > 0 {
		m.failReads[subject.String()] = n - 1
		return nil, errStoreUnavailable
	}
	var out []models.RawSample
	for _, s := range m.raw {
		if s.SubjectKey == subject && inRange(s.Timestamp, from, to) {
			out = append(out, s)
		}
	}
	return out, nil
}

type cleanedView struct{ *memStore }

func (c cleanedView) ExistingKeys(ctx context.Context, subject models.SubjectKey, from, to time.Time) (map[models.SampleKey]struct{}, error) {
	m := c.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.SampleKey]struct{})
	for k, s := range m.cleaned {
		if s.SubjectKey == subject && inRange(s.Timestamp, from, to) {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

func (c cleanedView) InsertBatch(ctx context.Context, samples []models.CleanedSample) (int64, error) {
	m := c.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range samples {
		if _, ok := m.cleaned[s.Key()]; ok {
			continue
		}
		m.cleaned[s.Key()] = s
		n++
	}
	return n, nil
}

func (c cleanedView) ListWindow(ctx context.Context, subject models.SubjectKey, from, to time.Time) ([]models.CleanedSample, error) {
	m := c.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CleanedSample
	for _, s := range m.cleaned {
		if s.SubjectKey == subject && inRange(s.Timestamp, from, to) {
			out = append(out, s)
		}
	}
	return out, nil
}

type indexView struct{ *memStore }

func (i indexView) ExistingSubjects(ctx context.Context, windowStart time.Time, subjects []models.SubjectKey) (map[string]struct{}, error) {
	m := i.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	for _, s := range subjects {
		if _, ok := m.rows[rowKey(s, windowStart)]; ok {
			out[s.String()] = struct{}{}
		}
	}
	return out, nil
}

func (i indexView) Insert(ctx context.Context, row models.HRVIndexRow) (bool, error) {
	m := i.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rowKey(row.SubjectKey, row.WindowStart)
	if _, ok := m.rows[key]; ok {
		return false, nil
	}
	m.rows[key] = row
	return true, nil
}

func (i indexView) DeleteRange(ctx context.Context, from, to time.Time) (int64, error) {
	m := i.memStore
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.rows {
		if inRange(r.WindowStart, from, to) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}
