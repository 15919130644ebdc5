package compliance

import (
	"context"
	"sync"
	"time"
)

type fakeKVStore struct {
	mu   sync.Mutex
	data map[string]string
	sets int
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{data: make(map[string]string)}
}

func (f *fakeKVStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return v, nil
}

func (f *fakeKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	f.sets++
	return nil
}

// fakeSource 按 [from, to) 过滤的内存数据源
type fakeSource struct {
	mu    sync.Mutex
	data  map[string][]time.Time
	calls int
	err   error
}

func newFakeSource() *fakeSource {
	return &fakeSource{data: make(map[string][]time.Time)}
}

func (f *fakeSource) add(subject Subject, ts ...time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[subject.String()] = append(f.data[subject.String()], ts...)
}

func (f *fakeSource) DistinctTimestamps(ctx context.Context, subject Subject, from, to time.Time) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	seen := make(map[int64]struct{})
	var out []time.Time
	for _, ts := range f.data[subject.String()] {
		if ts.Before(from) || !ts.Before(to) {
			continue
		}
		if _, ok := seen[ts.UnixNano()]; ok {
			continue
		}
		seen[ts.UnixNano()] = struct{}{}
		out = append(out, ts)
	}
	return out, nil
}
