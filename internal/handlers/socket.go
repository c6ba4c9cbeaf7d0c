package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/services"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// IdentityHeader carries the user ID injected by the API gateway after it
// has validated the caller. The service sits behind that perimeter and
// trusts the header; a missing or malformed value rejects the connection
// before the upgrade completes.
const IdentityHeader = "X-User-Id"

// SocketGateway turns upgrade requests into authenticated, room-bound
// connections and relays bus frames to locally-held sockets.
type SocketGateway struct {
	hub      *Hub
	svc      *services.ChatService
	presence services.Presence
	upgrader websocket.Upgrader
}

func NewSocketGateway(hub *Hub, svc *services.ChatService, presence services.Presence) *SocketGateway {
	return &SocketGateway{
		hub:      hub,
		svc:      svc,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS handles GET /ws/chat/:roomId. Authentication happens once, before
// the bidirectional channel is established; the resolved identity is bound
// to the connection for its whole lifetime.
func (g *SocketGateway) ServeWS(c *gin.Context) {
	roomID := c.Param("roomId")

	userID, err := strconv.ParseInt(c.GetHeader(IdentityHeader), 10, 64)
	if err != nil || userID <= 0 {
		logger.Warn().Str("room_id", roomID).Msg("Websocket rejected: missing identity header")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Identity header required"})
		return
	}

	room, err := g.svc.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !room.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this chat room"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := NewClient(conn, g.hub, g.svc, g.presence, roomID, userID, room.OtherUserID(userID))
	g.hub.Register(roomID, userID, client)

	ctx := context.Background()
	if err := g.presence.SetOnline(ctx, userID); err != nil {
		logger.Warn().Err(err).Int64("user_id", userID).Msg("Failed to set presence")
	}
	g.svc.PublishPresence(ctx, roomID, userID, true)

	// Connecting to a room implies the user is looking at it.
	if _, err := g.svc.MarkRead(ctx, roomID, userID); err != nil {
		logger.Error().Err(err).Str("room_id", roomID).Msg("Read advance on connect failed")
	}

	logger.Info().Str("room_id", roomID).Int64("user_id", userID).Msg("Websocket connected")

	go client.writePump()
	client.readPump()
}

// Run subscribes to the bus and fans incoming frames out to local sockets.
// It blocks until ctx is cancelled; run it in its own goroutines per pattern.
func (g *SocketGateway) Run(ctx context.Context, bus services.Bus) {
	go func() {
		if err := bus.Subscribe(ctx, "chat:room:*", g.relayRoomFrame); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("Room channel subscription terminated")
		}
	}()
	go func() {
		if err := bus.Subscribe(ctx, "chat:user:*", g.relayUserFrame); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("User channel subscription terminated")
		}
	}()
}

func (g *SocketGateway) relayRoomFrame(channel string, frame services.Frame) {
	roomID := frame.RoomID
	if roomID == "" {
		roomID = strings.TrimPrefix(channel, "chat:room:")
	}
	g.hub.DeliverLocal(roomID, frame)
}

func (g *SocketGateway) relayUserFrame(channel string, frame services.Frame) {
	userID, err := strconv.ParseInt(strings.TrimPrefix(channel, "chat:user:"), 10, 64)
	if err != nil {
		logger.Warn().Str("channel", channel).Msg("Ignoring frame on malformed user channel")
		return
	}
	g.hub.DeliverToUser(userID, frame)
}
