package memory

import (
	"context"
	"sync"
	"time"

	"github.com/VahantSharma/Bloggly-Backend/internal/models"
	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
)

var _ ratelimit.Store = (*AttemptStore)(nil)

// AttemptStore keeps the attempt log in process memory. State is lost on
// restart and not shared between replicas.
type AttemptStore struct {
	mu sync.RWMutex
	m  map[string][]models.AttemptRecord
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{m: map[string][]models.AttemptRecord{}}
}

func (s *AttemptStore) Insert(_ context.Context, record models.AttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[record.Identifier] = append(s.m[record.Identifier], record)
	return nil
}

func (s *AttemptStore) PurgeExpired(_ context.Context, limitType string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for key, records := range s.m {
		kept := records[:0]
		for _, r := range records {
			if r.LimitType == limitType && r.CreatedAt.Before(before) {
				purged++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.m, key)
			continue
		}
		s.m[key] = kept
	}
	return purged, nil
}

func (s *AttemptStore) LatestBlock(_ context.Context, key string, since time.Time) (*models.AttemptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.AttemptRecord
	for i := range s.m[key] {
		r := s.m[key][i]
		if !r.Blocked || r.CreatedAt.Before(since) {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = &r
		}
	}
	return latest, nil
}

func (s *AttemptStore) CountFailures(_ context.Context, key string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.m[key] {
		if !r.Blocked && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *AttemptStore) ResetFailures(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.m[key]
	if !ok {
		return nil
	}
	kept := records[:0]
	for _, r := range records {
		if r.Blocked {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(s.m, key)
		return nil
	}
	s.m[key] = kept
	return nil
}

// Records returns a copy of the log for key.
func (s *AttemptStore) Records(key string) []models.AttemptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.AttemptRecord(nil), s.m[key]...)
}

// Len returns the number of records across all keys.
func (s *AttemptStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, records := range s.m {
		n += len(records)
	}
	return n
}
