package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/services"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxFrameSize   = 4096
	sendBufferSize = 64

	// Minimum interval between typing notifications per connection
	typingThrottle = 3 * time.Second
)

// Client is one authenticated websocket connection bound to a room. The
// authenticated identity is fixed at connect time; client-supplied sender
// fields on inbound frames are never trusted.
type Client struct {
	conn      *websocket.Conn
	hub       *Hub
	svc       *services.ChatService
	presence  services.Presence
	roomID    string
	userID    int64
	partnerID int64

	send chan services.Frame
	stop chan struct{}
	once sync.Once

	lastTyping time.Time
}

func NewClient(conn *websocket.Conn, hub *Hub, svc *services.ChatService, presence services.Presence, roomID string, userID, partnerID int64) *Client {
	return &Client{
		conn:      conn,
		hub:       hub,
		svc:       svc,
		presence:  presence,
		roomID:    roomID,
		userID:    userID,
		partnerID: partnerID,
		send:      make(chan services.Frame, sendBufferSize),
		stop:      make(chan struct{}),
	}
}

// enqueue hands a frame to the write pump without blocking. A client whose
// buffer is full loses the frame; it will catch up from persisted history.
func (c *Client) enqueue(frame services.Frame) {
	select {
	case <-c.stop:
	case c.send <- frame:
	default:
		logger.Warn().
			Str("room_id", c.roomID).
			Int64("user_id", c.userID).
			Msg("Dropping frame for slow client")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.cleanup()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Int64("user_id", c.userID).Msg("Websocket read error")
			}
			return
		}

		var frame services.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// Malformed frames are dropped; the connection stays open.
			logger.Warn().Err(err).Int64("user_id", c.userID).Msg("Dropping malformed frame")
			continue
		}

		if exit := c.route(frame); exit {
			return
		}
	}
}

// route dispatches one inbound frame. It returns true when the connection
// should close. The channel's authenticated identity always overrides the
// frame's senderId.
func (c *Client) route(frame services.Frame) bool {
	ctx := context.Background()

	switch frame.Type {
	case services.FrameEnter:
		// Informational; opening the conversation advances the read cursor.
		if _, err := c.svc.MarkRead(ctx, c.roomID, c.userID); err != nil {
			logger.Error().Err(err).Str("room_id", c.roomID).Msg("Read advance on ENTER failed")
		}
	case services.FrameTalk:
		if frame.Content == "" {
			return false
		}
		if _, err := c.svc.SendMessage(ctx, c.userID, c.partnerID, frame.Content); err != nil {
			logger.Error().Err(err).
				Str("room_id", c.roomID).
				Int64("user_id", c.userID).
				Msg("Failed to send message")
		}
	case services.FrameRead:
		if _, err := c.svc.MarkRead(ctx, c.roomID, c.userID); err != nil {
			logger.Error().Err(err).Str("room_id", c.roomID).Msg("Failed to mark read")
		}
	case services.FrameTyping:
		if time.Since(c.lastTyping) < typingThrottle {
			return false
		}
		c.lastTyping = time.Now()
		c.svc.PublishTyping(ctx, c.roomID, c.userID, frame.Content)
	case services.FrameExit:
		return true
	default:
		logger.Warn().
			Str("type", string(frame.Type)).
			Int64("user_id", c.userID).
			Msg("Dropping frame with unknown type")
	}
	return false
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				logger.Warn().Err(err).Int64("user_id", c.userID).Msg("Websocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// cleanup unregisters the connection and announces the exit. Runs exactly
// once no matter which pump noticed the close first.
func (c *Client) cleanup() {
	c.once.Do(func() {
		c.hub.Unregister(c.roomID, c.userID, c)
		close(c.stop)

		ctx := context.Background()
		if err := c.presence.SetOffline(ctx, c.userID); err != nil {
			logger.Warn().Err(err).Int64("user_id", c.userID).Msg("Failed to clear presence")
		}
		c.svc.PublishPresence(ctx, c.roomID, c.userID, false)

		logger.Info().
			Str("room_id", c.roomID).
			Int64("user_id", c.userID).
			Msg("Websocket disconnected")
	})
}

func (c *Client) close() {
	c.cleanup()
	if c.conn != nil {
		c.conn.Close()
	}
}
