package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/services"
	apperrors "github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/errors"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/logger"
	"github.com/gin-gonic/gin"
)

// ChatHandler serves the request/response chat API used by clients before
// and alongside the live channel.
type ChatHandler struct {
	svc      *services.ChatService
	profiles services.ProfileLookup
}

func NewChatHandler(svc *services.ChatService, profiles services.ProfileLookup) *ChatHandler {
	return &ChatHandler{svc: svc, profiles: profiles}
}

func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		c.JSON(appErr.Code, gin.H{"error": appErr.Message})
		return
	}
	logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Unhandled chat error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

type roomSummaryResponse struct {
	RoomID          string    `json:"roomId"`
	PartnerID       int64     `json:"partnerId"`
	PartnerNickname string    `json:"partnerNickname"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageAt   time.Time `json:"lastMessageAt"`
	UnreadCount     int64     `json:"unreadCount"`
}

// GetMyRooms returns the caller's rooms, most recent first. Partner names
// come from user-service and degrade to a placeholder on lookup failure.
func (h *ChatHandler) GetMyRooms(c *gin.Context) {
	userID := c.MustGet("userId").(int64)

	summaries, err := h.svc.GetRoomsForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	rooms := make([]roomSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		profile := h.profiles.GetProfile(c.Request.Context(), s.PartnerID)
		rooms = append(rooms, roomSummaryResponse{
			RoomID:          s.Room.ID,
			PartnerID:       s.PartnerID,
			PartnerNickname: profile.Nickname,
			LastMessage:     s.Room.LastMessage,
			LastMessageAt:   s.Room.LastMessageAt,
			UnreadCount:     s.UnreadCount,
		})
	}

	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetRoomDetail returns a room and its message history in persisted order.
func (h *ChatHandler) GetRoomDetail(c *gin.Context) {
	userID := c.MustGet("userId").(int64)
	roomID := c.Param("roomId")

	detail, err := h.svc.GetRoomDetail(c.Request.Context(), roomID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	profile := h.profiles.GetProfile(c.Request.Context(), detail.PartnerID)
	c.JSON(http.StatusOK, gin.H{
		"room":            detail.Room,
		"partnerId":       detail.PartnerID,
		"partnerNickname": profile.Nickname,
		"messages":        detail.Messages,
	})
}

// OpenRoomWithPartner resolves or lazily creates the room with a partner and
// returns it together with its history.
func (h *ChatHandler) OpenRoomWithPartner(c *gin.Context) {
	userID := c.MustGet("userId").(int64)

	partnerID, err := strconv.ParseInt(c.Param("partnerId"), 10, 64)
	if err != nil || partnerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid partner ID"})
		return
	}

	room, err := h.svc.GetOrCreateRoom(c.Request.Context(), userID, partnerID)
	if err != nil {
		respondError(c, err)
		return
	}

	detail, err := h.svc.GetRoomDetail(c.Request.Context(), room.ID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	profile := h.profiles.GetProfile(c.Request.Context(), partnerID)
	c.JSON(http.StatusOK, gin.H{
		"room":            detail.Room,
		"partnerId":       partnerID,
		"partnerNickname": profile.Nickname,
		"messages":        detail.Messages,
	})
}

// GetUnreadTotal returns the total unread badge for the caller.
func (h *ChatHandler) GetUnreadTotal(c *gin.Context) {
	userID := c.MustGet("userId").(int64)

	total, err := h.svc.GetUnreadTotal(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unreadCount": total})
}

// LeaveRoom deactivates the caller's membership in a room.
func (h *ChatHandler) LeaveRoom(c *gin.Context) {
	userID := c.MustGet("userId").(int64)
	roomID := c.Param("roomId")

	if err := h.svc.LeaveRoom(c.Request.Context(), roomID, userID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"left": true})
}

type internalSendRequest struct {
	SenderID   int64  `json:"senderId" binding:"required"`
	ReceiverID int64  `json:"receiverId" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

// SendInternalMessage lets other services originate a chat message without a
// live connection ("contact the poster"). It runs the exact same SendMessage
// path, so unread accounting and fan-out stay consistent.
func (h *ChatHandler) SendInternalMessage(c *gin.Context) {
	var req internalSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	msg, err := h.svc.SendMessage(c.Request.Context(), req.SenderID, req.ReceiverID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msg})
}
