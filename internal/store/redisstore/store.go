package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/smart-doctor/internal/chat"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func replyKey(fingerprint string) string {
	return "reply:" + fingerprint
}

func rateKey(key string) string {
	return "ratelimit:" + key
}

// GetReply returns the reply cached under a request fingerprint.
func (s *Store) GetReply(ctx context.Context, key string) (chat.CompletionResponse, bool, error) {
	raw, err := s.rdb.Get(ctx, replyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.CompletionResponse{}, false, nil
	}
	if err != nil {
		return chat.CompletionResponse{}, false, err
	}
	var resp chat.CompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return chat.CompletionResponse{}, false, err
	}
	return resp, true, nil
}

func (s *Store) SetReply(ctx context.Context, key string, resp chat.CompletionResponse, ttl time.Duration) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, replyKey(key), b, ttl).Err()
}

// Incr bumps a fixed-window counter; the window starts at the first hit.
func (s *Store) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := rateKey(key)
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
