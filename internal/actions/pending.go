package actions

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"maritime-query-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

var ErrPendingNotFound = stderrors.New("PENDING_NOT_FOUND")

// PendingStore holds staged mutations between Execute and Confirm.
type PendingStore interface {
	Save(ctx context.Context, req *models.MutationRequest, ttl time.Duration) error
	Load(ctx context.Context, token string) (*models.MutationRequest, error)
	// Update overwrites a stored request and keeps its remaining TTL. It
	// returns ErrPendingNotFound once the request has expired.
	Update(ctx context.Context, req *models.MutationRequest) error
	// Claim takes the single final-state slot for token, shared by confirm
	// and cancel. Only the first caller gets true.
	Claim(ctx context.Context, token string, ttl time.Duration) (bool, error)
}

type RedisPendingStore struct {
	client *redis.Client
	prefix string
}

func NewRedisPendingStore(client *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{client: client, prefix: "mqe:"}
}

func (s *RedisPendingStore) pendingKey(token string) string {
	return s.prefix + "pending:" + token
}

func (s *RedisPendingStore) claimKey(token string) string {
	return s.prefix + "claim:" + token
}

func (s *RedisPendingStore) Save(ctx context.Context, req *models.MutationRequest, ttl time.Duration) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode pending mutation: %w", err)
	}
	return s.client.Set(ctx, s.pendingKey(req.Token), data, ttl).Err()
}

func (s *RedisPendingStore) Load(ctx context.Context, token string) (*models.MutationRequest, error) {
	data, err := s.client.Get(ctx, s.pendingKey(token)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, ErrPendingNotFound
	}
	if err != nil {
		return nil, err
	}
	var req models.MutationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode pending mutation: %w", err)
	}
	return &req, nil
}

func (s *RedisPendingStore) Update(ctx context.Context, req *models.MutationRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode pending mutation: %w", err)
	}
	err = s.client.SetArgs(ctx, s.pendingKey(req.Token), data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if stderrors.Is(err, redis.Nil) {
		return ErrPendingNotFound
	}
	return err
}

func (s *RedisPendingStore) Claim(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.claimKey(token), "1", ttl).Result()
}
