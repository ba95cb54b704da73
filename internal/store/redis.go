package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joescharf/specflow/internal/models"
)

// DefaultDecisionTTL bounds how long an answered approval is kept in Redis.
const DefaultDecisionTTL = 7 * 24 * time.Hour

const decisionKeyPrefix = "specflow:decision:"

// RedisDecisionStore keeps approval decisions in Redis so several serve
// instances can share them.
type RedisDecisionStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisDecisionStore wraps a Redis client. A ttl <= 0 uses DefaultDecisionTTL.
func NewRedisDecisionStore(client redis.Cmdable, ttl time.Duration) *RedisDecisionStore {
	if ttl <= 0 {
		ttl = DefaultDecisionTTL
	}
	return &RedisDecisionStore{client: client, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func decisionKey(callbackID string) string {
	return decisionKeyPrefix + callbackID
}

// SaveDecision stores the decision as JSON with the configured TTL.
func (s *RedisDecisionStore) SaveDecision(ctx context.Context, d *models.ApprovalDecision) error {
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	if err := s.client.Set(ctx, decisionKey(d.CallbackID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save decision: %w", err)
	}
	return nil
}

// GetDecision returns the stored decision or ErrNotFound.
func (s *RedisDecisionStore) GetDecision(ctx context.Context, callbackID string) (*models.ApprovalDecision, error) {
	data, err := s.client.Get(ctx, decisionKey(callbackID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("decision %s: %w", callbackID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	var d models.ApprovalDecision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal decision: %w", err)
	}
	return &d, nil
}
