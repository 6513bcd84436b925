package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "room:"

// redisPayload is the message published to Redis for every room broadcast.
type redisPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisPubSub mirrors room events onto Redis channels "room:{id}".
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub creates a Redis pub/sub bridge for room events.
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Channel returns the Redis channel for a room.
func Channel(roomID string) string {
	return channelPrefix + roomID
}

// PublishRoomEvent publishes an event to the room's Redis channel.
func (r *RedisPubSub) PublishRoomEvent(ctx context.Context, roomID, event string, data []byte) error {
	body, err := json.Marshal(redisPayload{Event: event, Data: data, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, Channel(roomID), body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}
