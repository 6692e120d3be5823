package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	redisclient "github.com/openclaw/devlink/internal/redis"
)

// RedisAnnouncer publishes discovery beacons over redis pub/sub. The
// LAN broadcaster process subscribes to the owner's discovery channel
// and turns each beacon into an actual network broadcast.
type RedisAnnouncer struct {
	redis *redisclient.Client
}

func NewRedisAnnouncer(redisClient *redisclient.Client) *RedisAnnouncer {
	return &RedisAnnouncer{redis: redisClient}
}

var _ Bridge = (*RedisAnnouncer)(nil)

func (a *RedisAnnouncer) Emit(ctx context.Context, signal Signal) error {
	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("marshal beacon: %w", err)
	}

	channel := redisclient.DiscoveryChannel(signal.OwnerUserID)
	if err := a.redis.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish beacon: %w", err)
	}

	log.Debug().
		Str("channel", channel).
		Str("transport", string(signal.Transport)).
		Time("expiresAt", signal.ExpiresAt).
		Msg("discovery beacon published")
	return nil
}
