package broadcast

import (
	"testing"
	"time"

	"whatsapp-crm/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestStatsDelta(t *testing.T) {
	tests := []struct {
		name string
		old  string
		new  string
		want map[string]int
	}{
		{"same status is a no-op", models.StatusSent, models.StatusSent, nil},
		{"sent to delivered", models.StatusSent, models.StatusDelivered, map[string]int{"stats_delivered": 1}},
		{"delivered to read", models.StatusDelivered, models.StatusRead, map[string]int{"stats_read": 1}},
		{"sent straight to read counts delivery too", models.StatusSent, models.StatusRead, map[string]int{"stats_read": 1, "stats_delivered": 1}},
		{"sent to failed reclassifies", models.StatusSent, models.StatusFailed, map[string]int{"stats_failed": 1, "stats_sent": -1}},
		{"pending to failed", models.StatusPending, models.StatusFailed, map[string]int{"stats_failed": 1}},
		{"delivered to sent regression changes nothing", models.StatusDelivered, models.StatusSent, map[string]int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := statsDelta(tt.old, tt.new)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

// seedDelivery creates a completed broadcast with one linked, sent message
// and returns both along with the provider message id.
func seedDelivery(t *testing.T, db *gorm.DB) (*models.Broadcast, string) {
	t.Helper()
	started := time.Now().Add(-10 * time.Minute)
	completed := time.Now().Add(-5 * time.Minute)

	broadcast := &models.Broadcast{
		Name:        "seeded",
		Message:     "hello",
		Status:      models.BroadcastCompleted,
		StartedAt:   &started,
		CompletedAt: &completed,
		Stats:       models.BroadcastStats{Sent: 1},
		Recipients: []models.BroadcastRecipient{
			{Position: 0, Phone: "+15550000001"},
		},
	}
	require.NoError(t, db.Create(broadcast).Error)

	conversation := &models.Conversation{
		ContactPhone: "+15550000001",
		Status:       models.ConversationActive,
	}
	require.NoError(t, db.Create(conversation).Error)

	providerID := "wamid.seed.1"
	message := &models.Message{
		ConversationID:    conversation.ID,
		BroadcastID:       &broadcast.ID,
		Sender:            models.SenderAgent,
		Text:              "hello",
		Status:            models.StatusSent,
		WhatsAppMessageID: &providerID,
		Timestamp:         started,
	}
	require.NoError(t, db.Create(message).Error)
	return broadcast, providerID
}

func TestApplyStatusUpdateLifecycle(t *testing.T) {
	svc, _, pub, db := newTestService(t)
	broadcast, providerID := seedDelivery(t, db)

	stats := func() models.BroadcastStats {
		b, err := svc.Get(broadcast.ID)
		require.NoError(t, err)
		return b.Stats
	}

	require.NoError(t, svc.ApplyStatusUpdate(providerID, models.StatusDelivered))
	assert.Equal(t, models.BroadcastStats{Sent: 1, Delivered: 1}, stats())

	require.NoError(t, svc.ApplyStatusUpdate(providerID, models.StatusRead))
	assert.Equal(t, models.BroadcastStats{Sent: 1, Delivered: 1, Read: 1}, stats())

	// A duplicate read receipt must not double count.
	require.NoError(t, svc.ApplyStatusUpdate(providerID, models.StatusRead))
	assert.Equal(t, models.BroadcastStats{Sent: 1, Delivered: 1, Read: 1}, stats())

	var message models.Message
	require.NoError(t, db.First(&message, "whatsapp_message_id = ?", providerID).Error)
	assert.Equal(t, models.StatusRead, message.Status)

	assert.Equal(t, 2, pub.count("message_status"))
	assert.Equal(t, 2, pub.count("broadcast_stats"))
}

func TestApplyStatusUpdateReadWithoutDelivered(t *testing.T) {
	svc, _, _, db := newTestService(t)
	broadcast, providerID := seedDelivery(t, db)

	// The delivered callback never arrived; the read receipt stands in for it.
	require.NoError(t, svc.ApplyStatusUpdate(providerID, models.StatusRead))

	b, err := svc.Get(broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStats{Sent: 1, Delivered: 1, Read: 1}, b.Stats)
}

func TestApplyStatusUpdateFailure(t *testing.T) {
	svc, _, _, db := newTestService(t)
	broadcast, providerID := seedDelivery(t, db)

	require.NoError(t, svc.ApplyStatusUpdate(providerID, models.StatusFailed))

	b, err := svc.Get(broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStats{Sent: 0, Failed: 1}, b.Stats)
}

func TestApplyStatusUpdateUnknownMessage(t *testing.T) {
	svc, _, pub, _ := newTestService(t)

	require.NoError(t, svc.ApplyStatusUpdate("wamid.never.seen", models.StatusDelivered))
	assert.Equal(t, 0, pub.count("message_status"))
}

func TestApplyStatusUpdatePhoneFallback(t *testing.T) {
	svc, _, _, db := newTestService(t)
	broadcast, providerID := seedDelivery(t, db)

	// Strip the explicit linkage; attribution falls back to matching the
	// conversation phone against recipient lists.
	require.NoError(t, db.Model(&models.Message{}).
		Where("whatsapp_message_id = ?", providerID).
		Update("broadcast_id", nil).Error)

	require.NoError(t, svc.ApplyStatusUpdate(providerID, models.StatusDelivered))

	b, err := svc.Get(broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stats.Delivered)
}

func TestRecordReplyCountsOncePerCampaign(t *testing.T) {
	svc, _, pub, db := newTestService(t)
	broadcast, _ := seedDelivery(t, db)

	var conversation models.Conversation
	require.NoError(t, db.First(&conversation, "contact_phone = ?", "+15550000001").Error)

	reply := func(text string) *models.Message {
		message := &models.Message{
			ConversationID: conversation.ID,
			Sender:         models.SenderContact,
			Text:           text,
			Status:         models.StatusReceived,
			Timestamp:      time.Now(),
		}
		require.NoError(t, db.Create(message).Error)
		return message
	}

	require.NoError(t, svc.RecordReply(&conversation, reply("first")))
	b, err := svc.Get(broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stats.Replied)
	assert.Equal(t, 1, pub.count("broadcast_stats"))

	require.NoError(t, svc.RecordReply(&conversation, reply("second")))
	b, err = svc.Get(broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stats.Replied)
	assert.Equal(t, 1, pub.count("broadcast_stats"))
}

func TestRecordReplyIgnoresAgentMessages(t *testing.T) {
	svc, _, _, db := newTestService(t)
	broadcast, _ := seedDelivery(t, db)

	var conversation models.Conversation
	require.NoError(t, db.First(&conversation, "contact_phone = ?", "+15550000001").Error)

	message := &models.Message{
		ConversationID: conversation.ID,
		Sender:         models.SenderAgent,
		Text:           "follow up",
		Timestamp:      time.Now(),
	}
	require.NoError(t, db.Create(message).Error)

	require.NoError(t, svc.RecordReply(&conversation, message))
	b, err := svc.Get(broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Stats.Replied)
}

func TestSyncStatsNoLinkedMessages(t *testing.T) {
	svc, _, _, db := newTestService(t)

	completed := time.Now()
	broadcast := &models.Broadcast{
		Name:        "manual",
		Message:     "hello",
		Status:      models.BroadcastCompleted,
		CompletedAt: &completed,
		Stats:       models.BroadcastStats{Sent: 7, Delivered: 3, Replied: 2},
	}
	require.NoError(t, db.Create(broadcast).Error)

	stats, err := svc.SyncStats(broadcast.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BroadcastStats{Sent: 7, Delivered: 3, Replied: 2}, *stats)
}

func TestSyncStatsRecomputesFromMessages(t *testing.T) {
	svc, _, _, db := newTestService(t)
	broadcast, _ := seedDelivery(t, db)

	// Drift the stored counters away from the truth.
	require.NoError(t, db.Model(&models.Broadcast{}).Where("id = ?", broadcast.ID).
		UpdateColumns(map[string]interface{}{
			"stats_sent":    9,
			"stats_read":    9,
			"stats_replied": 4,
		}).Error)

	var conversation models.Conversation
	require.NoError(t, db.First(&conversation, "contact_phone = ?", "+15550000001").Error)
	addMessage := func(status string) {
		require.NoError(t, db.Create(&models.Message{
			ConversationID: conversation.ID,
			BroadcastID:    &broadcast.ID,
			Sender:         models.SenderAgent,
			Status:         status,
			Timestamp:      time.Now(),
		}).Error)
	}
	addMessage(models.StatusDelivered)
	addMessage(models.StatusRead)
	addMessage(models.StatusFailed)

	stats, err := svc.SyncStats(broadcast.ID)
	require.NoError(t, err)

	// Linked messages: one sent, one delivered, one read, one failed.
	assert.Equal(t, 3, stats.Sent)
	assert.Equal(t, 2, stats.Delivered)
	assert.Equal(t, 1, stats.Read)
	assert.Equal(t, 1, stats.Failed)
	// Replies come from the webhook path only and survive recomputation.
	assert.Equal(t, 4, stats.Replied)
}

func TestSweepRecentWindow(t *testing.T) {
	svc, _, _, db := newTestService(t)

	recent, _ := seedDelivery(t, db)
	require.NoError(t, db.Model(&models.Broadcast{}).Where("id = ?", recent.ID).
		UpdateColumn("stats_sent", 9).Error)

	// Completed long before the sync window; the sweep must skip it.
	old := time.Now().Add(-48 * time.Hour)
	stale := &models.Broadcast{
		Name:        "stale",
		Message:     "hello",
		Status:      models.BroadcastCompleted,
		CompletedAt: &old,
		Stats:       models.BroadcastStats{Sent: 5},
	}
	require.NoError(t, db.Create(stale).Error)

	require.NoError(t, svc.SweepRecent())

	b, err := svc.Get(recent.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stats.Sent)

	b, err = svc.Get(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, b.Stats.Sent)
}
