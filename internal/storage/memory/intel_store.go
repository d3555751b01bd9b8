package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/calvin1011/watchtower/internal/intel"
)

// IntelStore provides an in-memory intel and digest store for development/testing.
type IntelStore struct {
	mu      sync.RWMutex
	records []intel.Record
	byID    map[string]int
	digests []intel.Digest
}

// NewIntelStore constructs an IntelStore.
func NewIntelStore() *IntelStore {
	return &IntelStore{byID: make(map[string]int)}
}

// InsertIntel appends the batch. Duplicate ids reject the whole batch.
func (s *IntelStore) InsertIntel(_ context.Context, records []intel.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			return errors.New("record id is required")
		}
		if _, exists := s.byID[rec.ID]; exists {
			return errors.New("record already exists")
		}
		if _, dup := seen[rec.ID]; dup {
			return errors.New("duplicate record id in batch")
		}
		seen[rec.ID] = struct{}{}
	}
	for _, rec := range records {
		s.byID[rec.ID] = len(s.records)
		s.records = append(s.records, cloneRecord(rec))
	}
	return nil
}

// ListIntel returns matching rows, newest detected first.
func (s *IntelStore) ListIntel(_ context.Context, filter intel.Filter) ([]intel.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []intel.Record
	for _, rec := range s.records {
		if filter.Competitor != "" && rec.Competitor != filter.Competitor {
			continue
		}
		if filter.SignalType != "" && rec.SignalType != strings.ToUpper(filter.SignalType) {
			continue
		}
		if !filter.Since.IsZero() && rec.DetectedAt.Before(filter.Since) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetIntel returns one row or intel.ErrNotFound.
func (s *IntelStore) GetIntel(_ context.Context, id string) (intel.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return intel.Record{}, intel.ErrNotFound
	}
	return cloneRecord(s.records[idx]), nil
}

// SearchSimilar ranks embedded rows by cosine similarity.
func (s *IntelStore) SearchSimilar(_ context.Context, embedding []float32, limit int) ([]intel.Record, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	type scored struct {
		rec   intel.Record
		score float64
	}
	s.mu.RLock()
	candidates := make([]scored, 0, len(s.records))
	for _, rec := range s.records {
		if len(rec.Embedding) != len(embedding) {
			continue
		}
		candidates = append(candidates, scored{rec: cloneRecord(rec), score: cosine(embedding, rec.Embedding)})
	}
	s.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]intel.Record, len(candidates))
	for i, c := range candidates {
		out[i] = c.rec
	}
	return out, nil
}

// InsertDigest records a sent digest.
func (s *IntelStore) InsertDigest(_ context.Context, digest intel.Digest) error {
	if digest.ID == "" {
		return errors.New("digest id is required")
	}
	s.mu.Lock()
	s.digests = append(s.digests, digest)
	s.mu.Unlock()
	return nil
}

// ListDigests returns the newest digests first.
func (s *IntelStore) ListDigests(_ context.Context, limit int) ([]intel.Digest, error) {
	s.mu.RLock()
	out := append([]intel.Digest(nil), s.digests...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.After(out[j].SentAt)
	})
	if limit <= 0 {
		limit = 20
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (s *IntelStore) Ping(context.Context) error { return nil }

func cloneRecord(rec intel.Record) intel.Record {
	rec.Embedding = append([]float32(nil), rec.Embedding...)
	return rec
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
