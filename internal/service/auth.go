package service

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	redisclient "github.com/openclaw/devlink/internal/redis"
	"github.com/openclaw/devlink/internal/util"
)

// TokenResolver resolves bearer tokens against the shared redis the
// external auth layer writes sessions into. Only token hashes are
// stored, never the tokens themselves.
type TokenResolver struct {
	redis *redisclient.Client
}

func NewTokenResolver(redisClient *redisclient.Client) *TokenResolver {
	return &TokenResolver{redis: redisClient}
}

func authTokenKey(tokenHash string) string {
	return fmt.Sprintf("auth:token:%s", tokenHash)
}

func (r *TokenResolver) Resolve(ctx context.Context, token string) (string, error) {
	userID, err := r.redis.Get(ctx, authTokenKey(util.HashToken(token))).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve token: %w", err)
	}
	return userID, nil
}
