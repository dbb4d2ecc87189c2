package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/weather-ingest/internal/weather"
)

// locationHistory holds the rows of one rounded location in insertion order.
type locationHistory struct {
	rows []weather.Observation
}

// MemoryStore is a concurrency-safe in-memory observation store with the same
// dedup semantics as the DuckDB store. It backs tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location key, value: history
	data   map[string]*locationHistory
	policy weather.DedupPolicy
}

var _ weather.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore. An empty policy means PolicyRow.
func NewMemoryStore(policy weather.DedupPolicy) *MemoryStore {
	if policy == "" {
		policy = weather.PolicyRow
	}
	return &MemoryStore{
		data:   make(map[string]*locationHistory),
		policy: policy,
	}
}

// EnsureSchema is a no-op; the in-memory layout always matches the catalog.
func (s *MemoryStore) EnsureSchema(context.Context) error {
	return nil
}

// Upsert adds rows not already stored. Under PolicyKey a new row replaces
// stored rows sharing its key, and only the first row per key in a batch is
// considered.
func (s *MemoryStore) Upsert(ctx context.Context, rows []weather.Observation) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	batchKeys := make(map[string]bool)
	for _, r := range rows {
		loc := r.Location()
		history, ok := s.data[loc.Key()]
		if !ok {
			history = &locationHistory{}
			s.data[loc.Key()] = history
		}

		if containsEqual(history.rows, r) {
			continue
		}
		if s.policy == weather.PolicyKey {
			k := r.Timestamp.UTC().Format(time.RFC3339) + "@" + loc.Key()
			if batchKeys[k] {
				continue
			}
			batchKeys[k] = true
			if replaceSameKey(history, r) {
				inserted++
				continue
			}
		}
		history.rows = append(history.rows, r.Clone())
		inserted++
	}
	return inserted, nil
}

func containsEqual(rows []weather.Observation, r weather.Observation) bool {
	for _, existing := range rows {
		if existing.Equal(r) {
			return true
		}
	}
	return false
}

// replaceSameKey swaps the first same-key row for r and drops any others.
func replaceSameKey(h *locationHistory, r weather.Observation) bool {
	idx := -1
	kept := h.rows[:0]
	for _, existing := range h.rows {
		if existing.SameKey(r) {
			if idx >= 0 {
				continue
			}
			idx = len(kept)
		}
		kept = append(kept, existing)
	}
	h.rows = kept
	if idx < 0 {
		return false
	}
	h.rows[idx] = r.Clone()
	return true
}

// Query returns all rows for the location ordered by timestamp.
func (s *MemoryStore) Query(ctx context.Context, loc weather.Location) ([]weather.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc = weather.NewLocation(loc.Latitude, loc.Longitude)

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[loc.Key()]
	if !ok {
		return nil, nil
	}

	out := make([]weather.Observation, len(history.rows))
	for i, r := range history.rows {
		out[i] = r.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// LastTimestamp returns the newest timestamp stored for the location.
func (s *MemoryStore) LastTimestamp(ctx context.Context, loc weather.Location) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	loc = weather.NewLocation(loc.Latitude, loc.Longitude)

	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[loc.Key()]
	if !ok || len(history.rows) == 0 {
		return time.Time{}, weather.ErrNotFound
	}
	last := history.rows[0].Timestamp
	for _, r := range history.rows[1:] {
		if r.Timestamp.After(last) {
			last = r.Timestamp
		}
	}
	return last.UTC(), nil
}

// Purge deletes the location's rows, or every row when loc is nil.
func (s *MemoryStore) Purge(ctx context.Context, loc *weather.Location) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if loc == nil {
		n := 0
		for _, h := range s.data {
			n += len(h.rows)
		}
		s.data = make(map[string]*locationHistory)
		return n, nil
	}

	key := weather.NewLocation(loc.Latitude, loc.Longitude).Key()
	history, ok := s.data[key]
	if !ok {
		return 0, nil
	}
	delete(s.data, key)
	return len(history.rows), nil
}
