package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// FrameType discriminates the protocol frames.
type FrameType string

const (
	FrameEnter      FrameType = "ENTER"
	FrameTalk       FrameType = "TALK"
	FrameRead       FrameType = "READ"
	FrameTyping     FrameType = "TYPING"
	FrameExit       FrameType = "EXIT"
	FrameRoomUpdate FrameType = "ROOM_UPDATE"
)

// Frame is the wire envelope shared by the websocket protocol and the fan-out
// bus. Every server instance subscribes to the same channels, so a frame
// published by any instance reaches the sockets on all of them.
type Frame struct {
	Type      FrameType  `json:"type"`
	RoomID    string     `json:"roomId"`
	SenderID  int64      `json:"senderId"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

// RoomChannel is the bus channel carrying all frames for one room.
func RoomChannel(roomID string) string {
	return "chat:room:" + roomID
}

// UserChannel carries per-user notifications (room list refresh).
func UserChannel(userID int64) string {
	return fmt.Sprintf("chat:user:%d", userID)
}

// Bus decouples "a frame was published" from "which instance must deliver it
// locally". Delivery is at-most-once; publish order is preserved within a
// single channel.
type Bus interface {
	Publish(ctx context.Context, channel string, frame Frame) error
	// Subscribe blocks, invoking handler for every frame published to a
	// channel matching pattern, until ctx is cancelled. Handlers for a given
	// channel are invoked in publish order.
	Subscribe(ctx context.Context, pattern string, handler func(channel string, frame Frame)) error
}

const publishTimeout = 5 * time.Second

// RedisBus implements Bus on Redis pub/sub.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, frame Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	// A stalled broker must not stall senders indefinitely.
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, pattern string, handler func(channel string, frame Frame)) error {
	sub := b.client.PSubscribe(ctx, pattern)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var frame Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Dropping malformed bus frame")
				continue
			}
			handler(msg.Channel, frame)
		}
	}
}
