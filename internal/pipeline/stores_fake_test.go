package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"myhealth-hrv/internal/models"

	"github.com/stretchr/testify/mock"
)

type fakeRawStore struct {
	mu        sync.Mutex
	samples   []models.RawSample
	first     time.Time
	last      time.Time
	windowErr map[string]error
}

func (f *fakeRawStore) add(samples ...models.RawSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range samples {
		if f.first.IsZero() || s.Timestamp.Before(f.first) {
			f.first = s.Timestamp
		}
		if s.Timestamp.After(f.last) {
			f.last = s.Timestamp
		}
	}
	f.samples = append(f.samples, samples...)
}

func (f *fakeRawStore) ListSubjectsInWindow(ctx context.Context, from, to time.Time) ([]models.SubjectKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[models.SubjectKey]bool)
	var out []models.SubjectKey
	for _, s := range f.samples {
		if s.Timestamp.Before(from) || !s.Timestamp.Before(to) || seen[s.SubjectKey] {
			continue
		}
		seen[s.SubjectKey] = true
		out = append(out, s.SubjectKey)
	}
	return out, nil
}

func (f *fakeRawStore) ListWindow(ctx context.Context, subject models.SubjectKey, from, to time.Time) ([]models.RawSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.windowErr[subject.String()]; err != nil {
		return nil, err
	}
	var out []models.RawSample
	for _, s := range f.samples {
		if s.SubjectKey == subject && !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeRawStore) DataRange(ctx context.Context) (time.Time, time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.samples) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	return f.first, f.last, true, nil
}

// fakeCleanedStore 以 (subject, device, timestamp) 为唯一键
type fakeCleanedStore struct {
	mu      sync.Mutex
	rows    map[string]models.CleanedSample
	inserts int
}

func newFakeCleanedStore() *fakeCleanedStore {
	return &fakeCleanedStore{rows: make(map[string]models.CleanedSample)}
}

func cleanedKey(s models.CleanedSample) string {
	return fmt.Sprintf("%s|%s|%d", s.SubjectKey, s.DeviceID, s.Timestamp.UnixNano())
}

func (f *fakeCleanedStore) ExistingKeys(ctx context.Context, subject models.SubjectKey, from, to time.Time) (map[models.SampleKey]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make(map[models.SampleKey]struct{})
	for _, s := range f.rows {
		if s.SubjectKey == subject && !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			keys[s.Key()] = struct{}{}
		}
	}
	return keys, nil
}

func (f *fakeCleanedStore) InsertBatch(ctx context.Context, samples []models.CleanedSample) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range samples {
		k := cleanedKey(s)
		if _, ok := f.rows[k]; ok {
			continue
		}
		f.rows[k] = s
		n++
	}
	f.inserts++
	return n, nil
}

func (f *fakeCleanedStore) ListWindow(ctx context.Context, subject models.SubjectKey, from, to time.Time) ([]models.CleanedSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.CleanedSample
	for _, s := range f.rows {
		if s.SubjectKey == subject && !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (f *fakeCleanedStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeIndexStore struct {
	mu        sync.Mutex
	rows      map[string]models.HRVIndexRow
	insertErr map[string]error
}

func newFakeIndexStore() *fakeIndexStore {
	return &fakeIndexStore{
		rows:      make(map[string]models.HRVIndexRow),
		insertErr: make(map[string]error),
	}
}

func indexKey(subject models.SubjectKey, start time.Time) string {
	return fmt.Sprintf("%s|%d", subject, start.UnixNano())
}

func (f *fakeIndexStore) ExistingSubjects(ctx context.Context, windowStart time.Time, subjects []models.SubjectKey) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]struct{})
	for _, s := range subjects {
		if _, ok := f.rows[indexKey(s, windowStart)]; ok {
			out[s.String()] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeIndexStore) Insert(ctx context.Context, row models.HRVIndexRow) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.insertErr[row.SubjectKey.String()]; err != nil {
		return false, err
	}
	k := indexKey(row.SubjectKey, row.WindowStart)
	if _, ok := f.rows[k]; ok {
		return false, nil
	}
	f.rows[k] = row
	return true, nil
}

func (f *fakeIndexStore) DeleteRange(ctx context.Context, from, to time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, r := range f.rows {
		if !r.WindowStart.Before(from) && r.WindowStart.Before(to) {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeIndexStore) get(subject models.SubjectKey, start time.Time) (models.HRVIndexRow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[indexKey(subject, start)]
	return r, ok
}

func (f *fakeIndexStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// MockIndexStore 用于注入读取失败
type MockIndexStore struct {
	mock.Mock
}

func (m *MockIndexStore) ExistingSubjects(ctx context.Context, windowStart time.Time, subjects []models.SubjectKey) (map[string]struct{}, error) {
	args := m.Called(ctx, windowStart, subjects)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *MockIndexStore) Insert(ctx context.Context, row models.HRVIndexRow) (bool, error) {
	args := m.Called(ctx, row)
	return args.Bool(0), args.Error(1)
}

func (m *MockIndexStore) DeleteRange(ctx context.Context, from, to time.Time) (int64, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).(int64), args.Error(1)
}

type recordingObserver struct {
	mu        sync.Mutex
	summaries []CycleSummary
}

func (r *recordingObserver) ObserveCycle(ctx context.Context, summary CycleSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, summary)
}
