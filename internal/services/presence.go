package services

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Presence records which users currently hold a live connection, independent
// of which server instance holds it.
type Presence interface {
	SetOnline(ctx context.Context, userID int64) error
	SetOffline(ctx context.Context, userID int64) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// RedisPresence keeps one key per user. Redis is the single source of truth,
// so concurrent updates from different instances cannot diverge.
type RedisPresence struct {
	client *redis.Client
}

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func presenceKey(userID int64) string {
	return fmt.Sprintf("chat:online:%d", userID)
}

func (p *RedisPresence) SetOnline(ctx context.Context, userID int64) error {
	return p.client.Set(ctx, presenceKey(userID), "ONLINE", 0).Err()
}

func (p *RedisPresence) SetOffline(ctx context.Context, userID int64) error {
	return p.client.Del(ctx, presenceKey(userID)).Err()
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := p.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
