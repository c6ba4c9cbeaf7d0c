package testutil

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/models"
	"github.com/HeoJunHyoung/linkfolio-backend-sub000/internal/services"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbCounter int64

// NewTestDB returns an isolated in-memory SQLite database with the chat
// schema migrated. MaxOpenConns(1) serializes concurrent access so
// concurrency tests do not trip over SQLite write locking.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	n := atomic.AddInt64(&dbCounter, 1)
	dsn := fmt.Sprintf("file:chattest%d?mode=memory&cache=shared", n)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.ChatRoom{}, &models.ChatRoomUser{}, &models.Message{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	return db
}

type memorySub struct {
	pattern string
	handler func(channel string, frame services.Frame)
}

// MemoryBus is an in-process services.Bus used by tests to simulate the
// shared pub/sub channel between server instances. Dispatch is synchronous,
// so publish order within a channel is preserved.
type MemoryBus struct {
	mu   sync.Mutex
	subs []*memorySub
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, channel string, frame services.Frame) error {
	b.mu.Lock()
	subs := make([]*memorySub, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if ok, _ := path.Match(sub.pattern, channel); ok {
			sub.handler(channel, frame)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, pattern string, handler func(channel string, frame services.Frame)) error {
	sub := &memorySub{pattern: pattern, handler: handler}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	return ctx.Err()
}

// SubscriberCount lets tests wait until subscriptions are installed before
// publishing.
func (b *MemoryBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// MemoryPresence is an in-process services.Presence for tests.
type MemoryPresence struct {
	mu     sync.Mutex
	online map[int64]bool
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{online: make(map[int64]bool)}
}

func (p *MemoryPresence) SetOnline(ctx context.Context, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
	return nil
}

func (p *MemoryPresence) SetOffline(ctx context.Context, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
	return nil
}

func (p *MemoryPresence) IsOnline(ctx context.Context, userID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID], nil
}

// StubProfiles implements services.ProfileLookup with a fixed map.
type StubProfiles struct {
	Names map[int64]string
}

func (s StubProfiles) GetProfile(ctx context.Context, userID int64) services.Profile {
	name, ok := s.Names[userID]
	if !ok {
		name = services.PlaceholderNickname
	}
	return services.Profile{UserID: userID, Nickname: name}
}
