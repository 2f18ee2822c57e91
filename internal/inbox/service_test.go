package inbox

import (
	"path/filepath"
	"testing"
	"time"

	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return NewService(db, zerolog.Nop()), db
}

func TestUpsertContact(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.UpsertContact("+15550000001", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada", created.Name)
	require.NotNil(t, created.LastContact)

	// A second upsert with no name keeps the stored one.
	again, err := svc.UpsertContact("+15550000001", "")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, "Ada", again.Name)
}

func TestUpsertContactFillsEmptyName(t *testing.T) {
	svc, _ := newTestService(t)

	created, err := svc.UpsertContact("+15550000001", "")
	require.NoError(t, err)
	assert.Equal(t, "", created.Name)

	named, err := svc.UpsertContact("+15550000001", "Ada")
	require.NoError(t, err)
	assert.Equal(t, created.ID, named.ID)
	assert.Equal(t, "Ada", named.Name)
}

func TestOpenConversationIsSingle(t *testing.T) {
	svc, db := newTestService(t)

	contact, err := svc.UpsertContact("+15550000001", "Ada")
	require.NoError(t, err)

	first, err := svc.OpenConversation(contact)
	require.NoError(t, err)
	second, err := svc.OpenConversation(contact)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Resolving frees the contact for a fresh thread.
	require.NoError(t, db.Model(first).Update("status", models.ConversationResolved).Error)
	third, err := svc.OpenConversation(contact)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestRecordOutbound(t *testing.T) {
	svc, _ := newTestService(t)

	broadcastID := "bcast-1"
	conversation, message, err := svc.RecordOutbound("+15550000001", "hello there", "wamid.1", &broadcastID)
	require.NoError(t, err)

	assert.Equal(t, models.SenderAgent, message.Sender)
	assert.Equal(t, models.StatusSent, message.Status)
	require.NotNil(t, message.WhatsAppMessageID)
	assert.Equal(t, "wamid.1", *message.WhatsAppMessageID)
	require.NotNil(t, message.BroadcastID)
	assert.Equal(t, broadcastID, *message.BroadcastID)

	assert.Equal(t, "hello there", conversation.LastMessage)
	assert.Equal(t, models.SenderAgent, conversation.LastMessageFrom)
	assert.Equal(t, 0, conversation.UnreadCount)
}

func TestRecordInboundBumpsUnread(t *testing.T) {
	svc, _ := newTestService(t)

	when := time.Now().Add(-time.Minute)
	conversation, message, err := svc.RecordInbound("+15550000001", "Ada", "hi!", "wamid.in.1", when)
	require.NoError(t, err)

	assert.Equal(t, models.SenderContact, message.Sender)
	assert.Equal(t, models.StatusReceived, message.Status)
	require.NotNil(t, message.WhatsAppTimestamp)
	assert.Equal(t, 1, conversation.UnreadCount)

	conversation, _, err = svc.RecordInbound("+15550000001", "Ada", "anyone?", "wamid.in.2", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, conversation.UnreadCount)
	assert.Equal(t, "anyone?", conversation.LastMessage)
}

func TestRecordFailure(t *testing.T) {
	svc, db := newTestService(t)

	broadcastID := "bcast-1"
	message, err := svc.RecordFailure("+15550000001", "hello", "provider rejected", &broadcastID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, message.Status)
	assert.Equal(t, "provider rejected", message.ErrorMessage)
	assert.Nil(t, message.WhatsAppMessageID)

	var count int64
	db.Model(&models.Message{}).Where("broadcast_id = ?", broadcastID).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestMarkRead(t *testing.T) {
	svc, _ := newTestService(t)

	conversation, _, err := svc.RecordInbound("+15550000001", "Ada", "hi", "wamid.in.1", time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, conversation.UnreadCount)

	updated, err := svc.MarkRead(conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.UnreadCount)

	_, err = svc.MarkRead(99999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolvedAtStampedOnce(t *testing.T) {
	svc, db := newTestService(t)

	contact, err := svc.UpsertContact("+15550000001", "Ada")
	require.NoError(t, err)
	conversation, err := svc.OpenConversation(contact)
	require.NoError(t, err)

	conversation.Status = models.ConversationResolved
	require.NoError(t, db.Save(conversation).Error)
	require.NotNil(t, conversation.ResolvedAt)
	stamped := *conversation.ResolvedAt

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, db.Save(conversation).Error)
	assert.Equal(t, stamped, *conversation.ResolvedAt)
}
