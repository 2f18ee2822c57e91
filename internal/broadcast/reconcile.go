package broadcast

import (
	"errors"
	"fmt"
	"time"

	"whatsapp-crm/internal/models"

	"gorm.io/gorm"
)

// statsDelta maps an old→new message-status pair onto stats column deltas.
// The transition guard is what makes repeated or out-of-order provider
// callbacks idempotent: an already-applied transition produces no delta.
func statsDelta(oldStatus, newStatus string) map[string]int {
	if oldStatus == newStatus {
		return nil
	}

	deltas := map[string]int{}
	switch newStatus {
	case models.StatusDelivered:
		if oldStatus == models.StatusSent {
			deltas["stats_delivered"] = 1
		}
	case models.StatusRead:
		deltas["stats_read"] = 1
		// A read receipt implies delivery; count it unless the delivered
		// callback already did.
		if oldStatus != models.StatusDelivered {
			deltas["stats_delivered"] = 1
		}
	case models.StatusFailed:
		deltas["stats_failed"] = 1
		if oldStatus == models.StatusSent {
			// Reclassify: the send-time increment assumed success.
			deltas["stats_sent"] = -1
		}
	}
	return deltas
}

// ApplyStatusUpdate consumes one delivery-status callback from the provider:
// it persists the message's new status and folds the transition into the
// owning broadcast's aggregate counters.
func (s *Service) ApplyStatusUpdate(providerMessageID, newStatus string) error {
	var message models.Message
	err := s.db.Where("whatsapp_message_id = ?", providerMessageID).First(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Debug().Str("provider_message_id", providerMessageID).Msg("status update for unknown message")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}

	oldStatus := message.Status
	if oldStatus == newStatus {
		return nil
	}

	if err := s.db.Model(&message).UpdateColumn("status", newStatus).Error; err != nil {
		return fmt.Errorf("persist message status: %w", err)
	}

	s.publish("message_status", map[string]interface{}{
		"message_id":      providerMessageID,
		"status":          newStatus,
		"conversation_id": message.ConversationID,
	})

	broadcasts, err := s.owningBroadcasts(&message)
	if err != nil {
		return err
	}

	deltas := statsDelta(oldStatus, newStatus)
	if len(deltas) == 0 {
		return nil
	}

	transition := oldStatus + "->" + newStatus
	for _, id := range broadcasts {
		if err := s.bumpStats(id, deltas); err != nil {
			return fmt.Errorf("apply stats delta to broadcast %s: %w", id, err)
		}
		s.publishStats(id, transition)
	}
	return nil
}

// owningBroadcasts resolves the campaign(s) a message's status change should
// be counted against. Steady state uses the message's explicit broadcast
// linkage; legacy messages without one fall back to matching the contact
// phone against recipient lists of broadcasts that are sending or completed.
func (s *Service) owningBroadcasts(message *models.Message) ([]string, error) {
	if message.BroadcastID != nil {
		var count int64
		err := s.db.Model(&models.Broadcast{}).
			Where("id = ? AND status IN ?", *message.BroadcastID,
				[]string{models.BroadcastSending, models.BroadcastCompleted}).
			Count(&count).Error
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, nil
		}
		return []string{*message.BroadcastID}, nil
	}

	var conversation models.Conversation
	if err := s.db.First(&conversation, message.ConversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	err := s.db.Model(&models.Broadcast{}).
		Joins("JOIN broadcast_recipients ON broadcast_recipients.broadcast_id = broadcasts.id").
		Where("broadcast_recipients.phone = ? AND broadcasts.status IN ?",
			conversation.ContactPhone, []string{models.BroadcastSending, models.BroadcastCompleted}).
		Distinct().Pluck("broadcasts.id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// RecordReply counts an inbound message against any campaign that targeted
// the sender, once per conversation per campaign: only the first
// contact-originated message since the broadcast started increments replied.
func (s *Service) RecordReply(conversation *models.Conversation, message *models.Message) error {
	if message.Sender != models.SenderContact {
		return nil
	}

	var broadcasts []models.Broadcast
	err := s.db.Model(&models.Broadcast{}).
		Joins("JOIN broadcast_recipients ON broadcast_recipients.broadcast_id = broadcasts.id").
		Where("broadcast_recipients.phone = ? AND broadcasts.status IN ? AND broadcasts.started_at IS NOT NULL",
			conversation.ContactPhone, []string{models.BroadcastSending, models.BroadcastCompleted}).
		Distinct("broadcasts.*").Find(&broadcasts).Error
	if err != nil {
		return fmt.Errorf("match reply to broadcasts: %w", err)
	}

	for _, broadcast := range broadcasts {
		var count int64
		err := s.db.Model(&models.Message{}).
			Where("conversation_id = ? AND sender = ? AND timestamp >= ?",
				conversation.ID, models.SenderContact, broadcast.StartedAt).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count != 1 {
			continue // not the first reply in this campaign window
		}
		if err := s.bumpStats(broadcast.ID, map[string]int{"stats_replied": 1}); err != nil {
			return err
		}
		s.publishStats(broadcast.ID, "replied")
	}
	return nil
}

// SyncStats recomputes a broadcast's counters from the messages linked to
// it and overwrites stored stats when they differ. A broadcast with no
// linked messages is left untouched; replied is never recomputed.
func (s *Service) SyncStats(id string) (*models.BroadcastStats, error) {
	broadcast, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	var messages []models.Message
	if err := s.db.Where("broadcast_id = ?", id).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("load broadcast messages: %w", err)
	}
	if len(messages) == 0 {
		return &broadcast.Stats, nil
	}

	recomputed := broadcast.Stats
	recomputed.Sent, recomputed.Delivered, recomputed.Read, recomputed.Failed = 0, 0, 0, 0
	for _, message := range messages {
		switch message.Status {
		case models.StatusSent:
			recomputed.Sent++
		case models.StatusDelivered:
			recomputed.Sent++
			recomputed.Delivered++
		case models.StatusRead:
			recomputed.Sent++
			recomputed.Delivered++
			recomputed.Read++
		case models.StatusFailed:
			recomputed.Failed++
		}
	}

	if recomputed == broadcast.Stats {
		return &broadcast.Stats, nil
	}

	s.log.Info().
		Str("broadcast_id", id).
		Interface("stored", broadcast.Stats).
		Interface("recomputed", recomputed).
		Msg("correcting stats drift")

	err = s.db.Model(&models.Broadcast{}).Where("id = ?", id).UpdateColumns(map[string]interface{}{
		"stats_sent":      recomputed.Sent,
		"stats_delivered": recomputed.Delivered,
		"stats_read":      recomputed.Read,
		"stats_failed":    recomputed.Failed,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("overwrite stats: %w", err)
	}

	s.publishStats(id, "sync")
	return &recomputed, nil
}

// SweepRecent runs the drift-correction sweep over broadcasts completed
// within the sync window. It is the correctness backstop for callbacks that
// were missed or arrived out of order.
func (s *Service) SweepRecent() error {
	cutoff := time.Now().Add(-s.syncWindow)

	var ids []string
	err := s.db.Model(&models.Broadcast{}).
		Where("status = ? AND completed_at >= ?", models.BroadcastCompleted, cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return fmt.Errorf("query recently completed broadcasts: %w", err)
	}

	for _, id := range ids {
		if _, err := s.SyncStats(id); err != nil {
			s.log.Error().Err(err).Str("broadcast_id", id).Msg("sweep stats sync failed")
		}
	}
	return nil
}

// publishStats republishes a broadcast's current stats with the transition
// label that caused the change.
func (s *Service) publishStats(id, transition string) {
	var broadcast models.Broadcast
	if err := s.db.First(&broadcast, "id = ?", id).Error; err != nil {
		return
	}
	s.publish("broadcast_stats", map[string]interface{}{
		"broadcast_id": id,
		"stats":        broadcast.Stats,
		"transition":   transition,
	})
}
