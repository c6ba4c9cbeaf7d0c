package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/models"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/services"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

type socketFixture struct {
	db       *gorm.DB
	bus      *testutil.MemoryBus
	svc      *services.ChatService
	presence *testutil.MemoryPresence
	hub      *Hub
	server   *httptest.Server
}

// newSocketFixture builds one simulated server instance on a shared db and
// bus.
func newSocketFixture(t *testing.T, db *gorm.DB, bus *testutil.MemoryBus) *socketFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := services.NewChatService(db, bus)
	presence := testutil.NewMemoryPresence()
	hub := NewHub()
	gateway := NewSocketGateway(hub, svc, presence)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	gateway.Run(ctx, bus)

	r := gin.New()
	r.GET("/ws/chat/:roomId", gateway.ServeWS)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &socketFixture{db: db, bus: bus, svc: svc, presence: presence, hub: hub, server: server}
}

func waitForSubscribers(t *testing.T, bus *testutil.MemoryBus, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("bus never reached %d subscribers", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *socketFixture) dial(t *testing.T, roomID string, userID int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/chat/" + roomID
	header := http.Header{}
	header.Set(IdentityHeader, strconv.FormatInt(userID, 10))

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until the predicate matches or the deadline hits.
func readUntil(t *testing.T, conn *websocket.Conn, match func(services.Frame) bool) services.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("websocket read failed: %v", err)
		}
		var frame services.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("unparseable frame %q: %v", raw, err)
		}
		if match(frame) {
			return frame
		}
	}
}

func TestServeWS_RejectsMissingIdentity(t *testing.T) {
	db := testutil.NewTestDB(t)
	bus := testutil.NewMemoryBus()
	f := newSocketFixture(t, db, bus)

	room, err := f.svc.GetOrCreateRoom(context.Background(), 1, 2)
	assert.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/chat/" + room.ID
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	if assert.NotNil(t, resp) {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestServeWS_RejectsNonMember(t *testing.T) {
	db := testutil.NewTestDB(t)
	bus := testutil.NewMemoryBus()
	f := newSocketFixture(t, db, bus)

	room, err := f.svc.GetOrCreateRoom(context.Background(), 1, 2)
	assert.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/chat/" + room.ID
	header := http.Header{}
	header.Set(IdentityHeader, "99")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	assert.Error(t, err)
	if assert.NotNil(t, resp) {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestServeWS_UnknownRoom(t *testing.T) {
	db := testutil.NewTestDB(t)
	bus := testutil.NewMemoryBus()
	f := newSocketFixture(t, db, bus)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/chat/does-not-exist"
	header := http.Header{}
	header.Set(IdentityHeader, "1")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	assert.Error(t, err)
	if assert.NotNil(t, resp) {
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
}

// Two instances each hold one participant's connection; a send through
// instance A must reach instance B's user via the bus alone.
func TestServeWS_CrossInstanceDelivery(t *testing.T) {
	db := testutil.NewTestDB(t)
	bus := testutil.NewMemoryBus()
	instanceA := newSocketFixture(t, db, bus)
	instanceB := newSocketFixture(t, db, bus)
	waitForSubscribers(t, bus, 4)

	room, err := instanceA.svc.GetOrCreateRoom(context.Background(), 1, 2)
	assert.NoError(t, err)

	connA := instanceA.dial(t, room.ID, 1)
	connB := instanceB.dial(t, room.ID, 2)

	// Wait until user 2's ENTER reaches user 1, proving both ends are wired
	readUntil(t, connA, func(f services.Frame) bool {
		return f.Type == services.FrameEnter && f.SenderID == 2
	})

	// The client-declared senderId is a lie; the channel identity must win
	payload, _ := json.Marshal(services.Frame{Type: services.FrameTalk, SenderID: 999, Content: "hello across"})
	assert.NoError(t, connA.WriteMessage(websocket.TextMessage, payload))

	frame := readUntil(t, connB, func(f services.Frame) bool {
		return f.Type == services.FrameTalk
	})
	assert.Equal(t, "hello across", frame.Content)
	assert.Equal(t, int64(1), frame.SenderID)
	assert.Equal(t, room.ID, frame.RoomID)
}

func TestServeWS_TypingBypassesPersistence(t *testing.T) {
	db := testutil.NewTestDB(t)
	bus := testutil.NewMemoryBus()
	f := newSocketFixture(t, db, bus)
	waitForSubscribers(t, bus, 2)

	room, err := f.svc.GetOrCreateRoom(context.Background(), 1, 2)
	assert.NoError(t, err)

	conn1 := f.dial(t, room.ID, 1)
	conn2 := f.dial(t, room.ID, 2)

	readUntil(t, conn1, func(fr services.Frame) bool {
		return fr.Type == services.FrameEnter && fr.SenderID == 2
	})

	payload, _ := json.Marshal(services.Frame{Type: services.FrameTyping, Content: "true"})
	assert.NoError(t, conn1.WriteMessage(websocket.TextMessage, payload))

	frame := readUntil(t, conn2, func(fr services.Frame) bool {
		return fr.Type == services.FrameTyping
	})
	assert.Equal(t, int64(1), frame.SenderID)

	var count int64
	db.Model(&models.Message{}).Count(&count)
	assert.Zero(t, count)
}

func TestServeWS_ConnectAdvancesReadCursor(t *testing.T) {
	db := testutil.NewTestDB(t)
	bus := testutil.NewMemoryBus()
	f := newSocketFixture(t, db, bus)
	waitForSubscribers(t, bus, 2)

	ctx := context.Background()
	msg, err := f.svc.SendMessage(ctx, 1, 2, "unseen")
	assert.NoError(t, err)

	total, err := f.svc.GetUnreadTotal(ctx, 2)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// Connecting to the room counts as opening the conversation
	f.dial(t, msg.RoomID, 2)

	deadline := time.Now().Add(2 * time.Second)
	for {
		total, err = f.svc.GetUnreadTotal(ctx, 2)
		assert.NoError(t, err)
		if total == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("unread count never reset, still %d", total)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Presence reflects the live connection
	online, err := f.presence.IsOnline(ctx, 2)
	assert.NoError(t, err)
	assert.True(t, online)
}

func TestServeWS_MalformedFrameKeepsConnection(t *testing.T) {
	db := testutil.NewTestDB(t)
	bus := testutil.NewMemoryBus()
	f := newSocketFixture(t, db, bus)
	waitForSubscribers(t, bus, 2)

	room, err := f.svc.GetOrCreateRoom(context.Background(), 1, 2)
	assert.NoError(t, err)

	conn1 := f.dial(t, room.ID, 1)
	conn2 := f.dial(t, room.ID, 2)
	readUntil(t, conn1, func(fr services.Frame) bool {
		return fr.Type == services.FrameEnter && fr.SenderID == 2
	})

	// Garbage is dropped without closing the channel
	assert.NoError(t, conn1.WriteMessage(websocket.TextMessage, []byte("{not json")))

	payload, _ := json.Marshal(services.Frame{Type: services.FrameTalk, Content: "still alive"})
	assert.NoError(t, conn1.WriteMessage(websocket.TextMessage, payload))

	frame := readUntil(t, conn2, func(fr services.Frame) bool {
		return fr.Type == services.FrameTalk
	})
	assert.Equal(t, "still alive", frame.Content)
}
