package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatRoom is a 1:1 conversation between two users.
// User1ID/User2ID are stored in canonical order (smaller ID first) so that a
// lookup by unordered pair always resolves to one row. The composite unique
// index is what actually prevents duplicate rooms when two processes race to
// create the same pair.
type ChatRoom struct {
	ID string `gorm:"primaryKey;type:uuid" json:"id"`

	User1ID int64 `gorm:"uniqueIndex:idx_chat_rooms_pair;not null" json:"user1Id"`
	User2ID int64 `gorm:"uniqueIndex:idx_chat_rooms_pair;not null" json:"user2Id"`

	// Preview metadata for room lists
	LastMessage   string    `gorm:"type:text" json:"lastMessage"`
	LastMessageAt time.Time `gorm:"index" json:"lastMessageAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Participants []ChatRoomUser `gorm:"foreignKey:RoomID" json:"-"`
}

func (r *ChatRoom) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}

// OtherUserID returns the partner of the given participant.
func (r *ChatRoom) OtherUserID(userID int64) int64 {
	if r.User1ID == userID {
		return r.User2ID
	}
	return r.User1ID
}

// HasParticipant reports whether userID is one of the two members.
func (r *ChatRoom) HasParticipant(userID int64) bool {
	return r.User1ID == userID || r.User2ID == userID
}

// ChatRoomUser is the per-(room,user) participation record. It is the single
// source of truth for read state: LastReadAt is the read cursor, UnreadCount
// is maintained with atomic SQL increments, VisibleFrom hides messages sent
// before a rejoin.
type ChatRoomUser struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	RoomID string `gorm:"uniqueIndex:idx_chat_room_users_member;type:uuid;not null" json:"roomId"`
	UserID int64  `gorm:"uniqueIndex:idx_chat_room_users_member;index;not null" json:"userId"`

	Active      bool      `gorm:"default:true" json:"active"`
	VisibleFrom time.Time `json:"visibleFrom"`
	LastReadAt  time.Time `json:"lastReadAt"`
	UnreadCount int64     `gorm:"default:0" json:"unreadCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (u *ChatRoomUser) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return
}

// Message is one chat message. Immutable except ReadAt, which transitions
// exactly once from nil to the read time.
type Message struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	RoomID   string `gorm:"index;type:uuid;not null" json:"roomId"`
	SenderID int64  `gorm:"index;not null" json:"senderId"`
	Content  string `gorm:"type:text;not null" json:"content"`

	ReadAt    *time.Time `json:"readAt"`
	CreatedAt time.Time  `gorm:"index" json:"createdAt"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}
