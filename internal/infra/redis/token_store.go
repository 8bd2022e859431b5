package redis

import (
	"context"
	"time"

	"plan-purchase-service/internal/domain"

	"github.com/go-redis/redis/v8"
)

// TokenStore enforces single use of checkout tokens: the first consumer of a
// jti wins, replays within the token TTL are rejected.
type TokenStore struct {
	cli *redis.Client
}

func NewTokenStore(c *Client) *TokenStore {
	return &TokenStore{cli: c.cli}
}

func (s *TokenStore) Consume(ctx context.Context, jti string, ttl time.Duration) error {
	ok, err := s.cli.SetNX(ctx, "checkout:jti:"+jti, "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrUnauthorized
	}
	return nil
}
