package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/models"
	apperrors "github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/errors"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/pkg/logger"
	"gorm.io/gorm"
)

// ChatService applies the chat business rules: lazy room creation with
// canonical participant ordering, unread accounting on the participation
// records, and fan-out publishing after durable persistence. It is shared by
// the websocket flow and the plain REST flow.
type ChatService struct {
	db  *gorm.DB
	bus Bus
}

func NewChatService(db *gorm.DB, bus Bus) *ChatService {
	return &ChatService{db: db, bus: bus}
}

// RoomSummary is one row of a user's room list.
type RoomSummary struct {
	Room        models.ChatRoom `json:"room"`
	PartnerID   int64           `json:"partnerId"`
	UnreadCount int64           `json:"unreadCount"`
	LastReadAt  time.Time       `json:"lastReadAt"`
}

// RoomDetail is a room plus its visible message history for one member.
type RoomDetail struct {
	Room      models.ChatRoom  `json:"room"`
	PartnerID int64            `json:"partnerId"`
	Messages  []models.Message `json:"messages"`
}

func canonicalPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// GetOrCreateRoom resolves the room for an unordered user pair, creating it
// lazily on first contact. Concurrent creates for the same pair from
// different instances are resolved by the unique (user1_id, user2_id) index:
// the loser of the race retries the lookup instead of failing the send.
func (s *ChatService) GetOrCreateRoom(ctx context.Context, userA, userB int64) (*models.ChatRoom, error) {
	if userA == userB {
		return nil, apperrors.ErrInvalidRoomPartner
	}

	user1, user2 := canonicalPair(userA, userB)

	var room models.ChatRoom
	err := s.db.WithContext(ctx).
		Where("user1_id = ? AND user2_id = ?", user1, user2).
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := time.Now()
		room = models.ChatRoom{
			User1ID:       user1,
			User2ID:       user2,
			LastMessageAt: now,
		}
		if cerr := s.db.WithContext(ctx).Create(&room).Error; cerr != nil {
			// Lost the create race: another instance inserted the pair first.
			if ferr := s.db.WithContext(ctx).
				Where("user1_id = ? AND user2_id = ?", user1, user2).
				First(&room).Error; ferr != nil {
				return nil, cerr
			}
		}
	} else if err != nil {
		return nil, err
	}

	if err := s.ensureParticipant(ctx, room.ID, userA); err != nil {
		return nil, err
	}
	if err := s.ensureParticipant(ctx, room.ID, userB); err != nil {
		return nil, err
	}
	return &room, nil
}

// ensureParticipant creates the participation record on first contact and
// reactivates it after a leave. Rejoining resets the visibility window so
// messages exchanged while away stay hidden.
func (s *ChatService) ensureParticipant(ctx context.Context, roomID string, userID int64) error {
	var member models.ChatRoomUser
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := time.Now()
		member = models.ChatRoomUser{
			RoomID:      roomID,
			UserID:      userID,
			Active:      true,
			VisibleFrom: now,
			LastReadAt:  now,
		}
		if cerr := s.db.WithContext(ctx).Create(&member).Error; cerr != nil {
			// Another connection raced us; the unique index kept one row.
			var ferr error
			if ferr = s.db.WithContext(ctx).
				Where("room_id = ? AND user_id = ?", roomID, userID).
				First(&member).Error; ferr != nil {
				return cerr
			}
		}
		return nil
	} else if err != nil {
		return err
	}

	if !member.Active {
		now := time.Now()
		return s.db.WithContext(ctx).Model(&models.ChatRoomUser{}).
			Where("room_id = ? AND user_id = ?", roomID, userID).
			Updates(map[string]interface{}{
				"active":       true,
				"visible_from": now,
				"last_read_at": now,
				"unread_count": 0,
			}).Error
	}
	return nil
}

// SendMessage persists a message, updates the room preview, bumps the
// receiver's unread counter and publishes the frame to the fan-out bus.
// Publish happens only after the transaction commits: a publish failure
// delays cross-process delivery but never loses the message.
func (s *ChatService) SendMessage(ctx context.Context, senderID, receiverID int64, content string) (*models.Message, error) {
	room, err := s.GetOrCreateRoom(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	msg := models.Message{
		RoomID:    room.ID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.ChatRoom{}).
			Where("id = ?", room.ID).
			Updates(map[string]interface{}{
				"last_message":    content,
				"last_message_at": now,
			}).Error; err != nil {
			return err
		}

		// Atomic increment, never read-modify-write: concurrent sends from
		// two instances must not lose counts.
		if err := tx.Model(&models.ChatRoomUser{}).
			Where("room_id = ? AND user_id = ?", room.ID, receiverID).
			Update("unread_count", gorm.Expr("unread_count + ?", 1)).Error; err != nil {
			return err
		}

		// The sender has trivially read their own message.
		return tx.Model(&models.ChatRoomUser{}).
			Where("room_id = ? AND user_id = ? AND last_read_at < ?", room.ID, senderID, now).
			Update("last_read_at", now).Error
	})
	if err != nil {
		return nil, err
	}

	s.publish(RoomChannel(room.ID), Frame{
		Type:      FrameTalk,
		RoomID:    room.ID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: &msg.CreatedAt,
	})
	s.notifyRoomUpdate(room)

	return &msg, nil
}

// MarkRead marks all of the reader's unread messages from the other
// participant, up to now, as read. It returns the number of messages that
// transitioned. The read_at IS NULL predicate makes the advance monotonic:
// re-applying a later boundary never un-marks a message.
func (s *ChatService) MarkRead(ctx context.Context, roomID string, readerID int64) (int64, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if !room.HasParticipant(readerID) {
		return 0, apperrors.ErrNotRoomMember
	}

	boundary := time.Now()
	senderID := room.OtherUserID(readerID)

	var transitioned int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).
			Where("room_id = ? AND sender_id = ? AND read_at IS NULL AND created_at <= ?",
				roomID, senderID, boundary).
			Update("read_at", boundary)
		if res.Error != nil {
			return res.Error
		}
		transitioned = res.RowsAffected

		// Cursor only advances, counter resets to zero.
		if err := tx.Model(&models.ChatRoomUser{}).
			Where("room_id = ? AND user_id = ? AND last_read_at < ?", roomID, readerID, boundary).
			Update("last_read_at", boundary).Error; err != nil {
			return err
		}
		return tx.Model(&models.ChatRoomUser{}).
			Where("room_id = ? AND user_id = ?", roomID, readerID).
			Update("unread_count", 0).Error
	})
	if err != nil {
		return 0, err
	}

	// Read receipt for the other side; the count rides in content.
	s.publish(RoomChannel(roomID), Frame{
		Type:     FrameRead,
		RoomID:   roomID,
		SenderID: readerID,
		Content:  strconv.FormatInt(transitioned, 10),
		ReadAt:   &boundary,
	})

	return transitioned, nil
}

// GetRoom loads a room by ID.
func (s *ChatService) GetRoom(ctx context.Context, roomID string) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.db.WithContext(ctx).First(&room, "id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrRoomNotFound
	} else if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetRoomsForUser returns the caller's active rooms, most recent message
// first, with per-room unread counts from the participation records.
func (s *ChatService) GetRoomsForUser(ctx context.Context, userID int64) ([]RoomSummary, error) {
	var members []models.ChatRoomUser
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []RoomSummary{}, nil
	}

	roomIDs := make([]string, 0, len(members))
	byRoom := make(map[string]models.ChatRoomUser, len(members))
	for _, m := range members {
		roomIDs = append(roomIDs, m.RoomID)
		byRoom[m.RoomID] = m
	}

	var rooms []models.ChatRoom
	err = s.db.WithContext(ctx).
		Where("id IN ?", roomIDs).
		Order("last_message_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		member := byRoom[room.ID]
		summaries = append(summaries, RoomSummary{
			Room:        room,
			PartnerID:   room.OtherUserID(userID),
			UnreadCount: member.UnreadCount,
			LastReadAt:  member.LastReadAt,
		})
	}
	return summaries, nil
}

// GetRoomDetail returns the room and its history in persisted order,
// restricted to the caller's visibility window.
func (s *ChatService) GetRoomDetail(ctx context.Context, roomID string, userID int64) (*RoomDetail, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(userID) {
		return nil, apperrors.ErrNotRoomMember
	}

	var member models.ChatRoomUser
	err = s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&member).Error
	if err != nil {
		return nil, err
	}

	var messages []models.Message
	err = s.db.WithContext(ctx).
		Where("room_id = ? AND created_at >= ?", roomID, member.VisibleFrom).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	return &RoomDetail{
		Room:      *room,
		PartnerID: room.OtherUserID(userID),
		Messages:  messages,
	}, nil
}

// GetUnreadTotal sums the caller's unread counters across active rooms.
func (s *ChatService) GetUnreadTotal(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&models.ChatRoomUser{}).
		Where("user_id = ? AND active = ?", userID, true).
		Select("COALESCE(SUM(unread_count), 0)").
		Scan(&total).Error
	return total, err
}

// LeaveRoom deactivates the caller's participation. The room row stays; a
// later open or an incoming message reactivates the membership with a fresh
// visibility window.
func (s *ChatService) LeaveRoom(ctx context.Context, roomID string, userID int64) error {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasParticipant(userID) {
		return apperrors.ErrNotRoomMember
	}

	return s.db.WithContext(ctx).Model(&models.ChatRoomUser{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Updates(map[string]interface{}{
			"active":       false,
			"unread_count": 0,
		}).Error
}

// PublishTyping forwards a typing notification straight to the bus. Nothing
// is persisted and delivery is best-effort.
func (s *ChatService) PublishTyping(ctx context.Context, roomID string, senderID int64, content string) {
	if err := s.bus.Publish(ctx, RoomChannel(roomID), Frame{
		Type:     FrameTyping,
		RoomID:   roomID,
		SenderID: senderID,
		Content:  content,
	}); err != nil {
		logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to publish typing notification")
	}
}

// PublishPresence announces a user entering or exiting a room.
func (s *ChatService) PublishPresence(ctx context.Context, roomID string, userID int64, online bool) {
	frameType := FrameEnter
	if !online {
		frameType = FrameExit
	}
	if err := s.bus.Publish(ctx, RoomChannel(roomID), Frame{
		Type:     frameType,
		RoomID:   roomID,
		SenderID: userID,
		Content:  strconv.FormatBool(online),
	}); err != nil {
		logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to publish presence frame")
	}
}

func (s *ChatService) publish(channel string, frame Frame) {
	// The message is already durable; a failed publish only delays
	// cross-process delivery until the next history fetch.
	if err := s.bus.Publish(context.Background(), channel, frame); err != nil {
		logger.Error().Err(err).Str("channel", channel).Msg("Bus publish failed")
	}
}

func (s *ChatService) notifyRoomUpdate(room *models.ChatRoom) {
	frame := Frame{Type: FrameRoomUpdate, RoomID: room.ID}
	s.publish(UserChannel(room.User1ID), frame)
	s.publish(UserChannel(room.User2ID), frame)
}
