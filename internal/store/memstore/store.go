// Package memstore is the in-process stand-in for redisstore, used when no
// Redis address is configured.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/suPer8Hu/smart-doctor/internal/chat"
)

type entry struct {
	reply   chat.CompletionResponse
	count   int64
	expires time.Time
}

type Store struct {
	mu      sync.Mutex
	replies map[string]entry
	counts  map[string]entry
	now     func() time.Time
}

func New() *Store {
	return &Store{
		replies: map[string]entry{},
		counts:  map[string]entry{},
		now:     time.Now,
	}
}

func (s *Store) GetReply(ctx context.Context, key string) (chat.CompletionResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.replies[key]
	if !ok || !s.now().Before(e.expires) {
		delete(s.replies, key)
		return chat.CompletionResponse{}, false, nil
	}
	return e.reply, true, nil
}

func (s *Store) SetReply(ctx context.Context, key string, resp chat.CompletionResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.replies[key] = entry{reply: resp, expires: s.now().Add(ttl)}
	return nil
}

func (s *Store) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.counts[key]
	if !ok || !now.Before(e.expires) {
		e = entry{expires: now.Add(window)}
	}
	e.count++
	s.counts[key] = e
	return e.count, nil
}

func (s *Store) sweepLocked() {
	now := s.now()
	for k, e := range s.replies {
		if !now.Before(e.expires) {
			delete(s.replies, k)
		}
	}
	for k, e := range s.counts {
		if !now.Before(e.expires) {
			delete(s.counts, k)
		}
	}
}
