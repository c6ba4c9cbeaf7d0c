package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/middleware"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/services"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newChatRouter(t *testing.T) (*gin.Engine, *services.ChatService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := services.NewChatService(testutil.NewTestDB(t), testutil.NewMemoryBus())
	profiles := testutil.StubProfiles{Names: map[int64]string{
		1: "junhyoung",
		2: "mina",
	}}
	h := NewChatHandler(svc, profiles)

	r := gin.New()
	api := r.Group("/api/chat")
	api.Use(middleware.IdentityMiddleware())
	api.GET("/rooms", h.GetMyRooms)
	api.GET("/rooms/:roomId", h.GetRoomDetail)
	api.POST("/rooms/with/:partnerId", h.OpenRoomWithPartner)
	api.DELETE("/rooms/:roomId/membership", h.LeaveRoom)
	api.GET("/unread-count", h.GetUnreadTotal)
	r.POST("/internal/chat/send", h.SendInternalMessage)

	return r, svc
}

func doJSON(r *gin.Engine, method, path string, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(middleware.IdentityHeader, userID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetMyRooms(t *testing.T) {
	r, svc := newChatRouter(t)

	_, err := svc.SendMessage(context.Background(), 1, 2, "hello")
	assert.NoError(t, err)

	w := doJSON(r, http.MethodGet, "/api/chat/rooms", "2", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Rooms []struct {
			RoomID          string `json:"roomId"`
			PartnerID       int64  `json:"partnerId"`
			PartnerNickname string `json:"partnerNickname"`
			LastMessage     string `json:"lastMessage"`
			UnreadCount     int64  `json:"unreadCount"`
		} `json:"rooms"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	if assert.Len(t, resp.Rooms, 1) {
		room := resp.Rooms[0]
		assert.Equal(t, int64(1), room.PartnerID)
		assert.Equal(t, "junhyoung", room.PartnerNickname)
		assert.Equal(t, "hello", room.LastMessage)
		assert.Equal(t, int64(1), room.UnreadCount)
	}
}

func TestGetMyRooms_PlaceholderNickname(t *testing.T) {
	r, svc := newChatRouter(t)

	// Partner 77 has no profile; listing must still succeed
	_, err := svc.SendMessage(context.Background(), 77, 2, "hi")
	assert.NoError(t, err)

	w := doJSON(r, http.MethodGet, "/api/chat/rooms", "2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), services.PlaceholderNickname)
}

func TestGetMyRooms_Unauthenticated(t *testing.T) {
	r, _ := newChatRouter(t)

	w := doJSON(r, http.MethodGet, "/api/chat/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOpenRoomWithPartner_SameRoomBothDirections(t *testing.T) {
	r, _ := newChatRouter(t)

	w1 := doJSON(r, http.MethodPost, "/api/chat/rooms/with/2", "1", nil)
	assert.Equal(t, http.StatusOK, w1.Code)
	w2 := doJSON(r, http.MethodPost, "/api/chat/rooms/with/1", "2", nil)
	assert.Equal(t, http.StatusOK, w2.Code)

	var resp1, resp2 struct {
		Room struct {
			ID string `json:"id"`
		} `json:"room"`
	}
	assert.NoError(t, json.Unmarshal(w1.Body.Bytes(), &resp1))
	assert.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp2))
	assert.Equal(t, resp1.Room.ID, resp2.Room.ID)
}

func TestOpenRoomWithPartner_Self(t *testing.T) {
	r, _ := newChatRouter(t)

	w := doJSON(r, http.MethodPost, "/api/chat/rooms/with/1", "1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRoomDetail_NonMemberForbidden(t *testing.T) {
	r, svc := newChatRouter(t)

	msg, err := svc.SendMessage(context.Background(), 1, 2, "private")
	assert.NoError(t, err)

	w := doJSON(r, http.MethodGet, "/api/chat/rooms/"+msg.RoomID, "3", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetUnreadTotalEndpoint(t *testing.T) {
	r, svc := newChatRouter(t)

	_, err := svc.SendMessage(context.Background(), 1, 2, "one")
	assert.NoError(t, err)
	_, err = svc.SendMessage(context.Background(), 3, 2, "two")
	assert.NoError(t, err)

	w := doJSON(r, http.MethodGet, "/api/chat/unread-count", "2", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		UnreadCount int64 `json:"unreadCount"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.UnreadCount)
}

func TestSendInternalMessage(t *testing.T) {
	r, svc := newChatRouter(t)

	w := doJSON(r, http.MethodPost, "/internal/chat/send", "", map[string]interface{}{
		"senderId":   int64(5),
		"receiverId": int64(6),
		"content":    "a user replied to your post",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// The internal path shares the normal unread accounting
	total, err := svc.GetUnreadTotal(context.Background(), 6)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestSendInternalMessage_Invalid(t *testing.T) {
	r, _ := newChatRouter(t)

	w := doJSON(r, http.MethodPost, "/internal/chat/send", "", map[string]interface{}{
		"senderId": int64(5),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLeaveRoomEndpoint(t *testing.T) {
	r, svc := newChatRouter(t)

	msg, err := svc.SendMessage(context.Background(), 1, 2, "bye")
	assert.NoError(t, err)

	w := doJSON(r, http.MethodDelete, "/api/chat/rooms/"+msg.RoomID+"/membership", "2", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	rooms, err := svc.GetRoomsForUser(context.Background(), 2)
	assert.NoError(t, err)
	assert.Empty(t, rooms)
}
