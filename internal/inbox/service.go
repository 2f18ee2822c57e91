// Package inbox owns the contact/conversation/message write path. All
// find-or-create logic for the single open conversation per contact phone
// lives here so no call site can fragment a thread.
package inbox

import (
	"errors"
	"fmt"
	"time"

	"whatsapp-crm/internal/models"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConversationExists = errors.New("open conversation already exists for this contact")
)

type Service struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewService(db *gorm.DB, log zerolog.Logger) *Service {
	return &Service{db: db, log: log}
}

var openStatuses = []string{models.ConversationActive, models.ConversationPending}

// UpsertContact finds or creates the contact for a phone number and stamps
// the last-contact time. An empty name never overwrites an existing one.
func (s *Service) UpsertContact(phone, name string) (*models.Contact, error) {
	now := time.Now()

	var contact models.Contact
	err := s.db.Where("phone = ?", phone).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		contact = models.Contact{Phone: phone, Name: name, LastContact: &now}
		if err := s.db.Create(&contact).Error; err != nil {
			return nil, fmt.Errorf("create contact: %w", err)
		}
		return &contact, nil
	}
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"last_contact": now}
	if contact.Name == "" && name != "" {
		updates["name"] = name
		contact.Name = name
	}
	if err := s.db.Model(&contact).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	contact.LastContact = &now
	return &contact, nil
}

// OpenConversation returns the single conversation for the contact's phone
// that is in an open status, creating one when none exists. The lookup and
// create run in one transaction so two concurrent callers cannot open two
// threads for the same contact.
func (s *Service) OpenConversation(contact *models.Contact) (*models.Conversation, error) {
	var conversation models.Conversation
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("contact_phone = ? AND status IN ?", contact.Phone, openStatuses).
			First(&conversation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			conversation = models.Conversation{
				ContactID:       contact.ID,
				ContactPhone:    contact.Phone,
				ContactName:     contact.Name,
				Status:          models.ConversationActive,
				LastMessageTime: time.Now(),
			}
			return tx.Create(&conversation).Error
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open conversation: %w", err)
	}
	return &conversation, nil
}

// RecordOutbound persists an agent-sent message and refreshes the
// conversation snapshot. broadcastID links the message to the campaign that
// generated it, when there is one.
func (s *Service) RecordOutbound(phone, text, providerMessageID string, broadcastID *string) (*models.Conversation, *models.Message, error) {
	contact, err := s.UpsertContact(phone, "")
	if err != nil {
		return nil, nil, err
	}

	conversation, err := s.OpenConversation(contact)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	conversation.LastMessage = text
	conversation.LastMessageTime = now
	conversation.LastMessageFrom = models.SenderAgent
	if err := s.db.Save(conversation).Error; err != nil {
		return nil, nil, fmt.Errorf("update conversation: %w", err)
	}

	message := models.Message{
		ConversationID: conversation.ID,
		BroadcastID:    broadcastID,
		Sender:         models.SenderAgent,
		Text:           text,
		Status:         models.StatusSent,
		Timestamp:      now,
	}
	if providerMessageID != "" {
		message.WhatsAppMessageID = &providerMessageID
	}
	if err := s.db.Create(&message).Error; err != nil {
		return nil, nil, fmt.Errorf("create message: %w", err)
	}

	return conversation, &message, nil
}

// RecordFailure persists a failed send attempt so the thread shows it and
// stats recomputation sees it.
func (s *Service) RecordFailure(phone, text, errorMessage string, broadcastID *string) (*models.Message, error) {
	contact, err := s.UpsertContact(phone, "")
	if err != nil {
		return nil, err
	}
	conversation, err := s.OpenConversation(contact)
	if err != nil {
		return nil, err
	}

	message := models.Message{
		ConversationID: conversation.ID,
		BroadcastID:    broadcastID,
		Sender:         models.SenderAgent,
		Text:           text,
		Status:         models.StatusFailed,
		ErrorMessage:   errorMessage,
		Timestamp:      time.Now(),
	}
	if err := s.db.Create(&message).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &message, nil
}

// RecordInbound persists a contact-sent message, bumping the unread counter
// and the conversation snapshot.
func (s *Service) RecordInbound(from, name, text, providerMessageID string, providerTime time.Time) (*models.Conversation, *models.Message, error) {
	contact, err := s.UpsertContact(from, name)
	if err != nil {
		return nil, nil, err
	}

	conversation, err := s.OpenConversation(contact)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	conversation.LastMessage = text
	conversation.LastMessageTime = now
	conversation.LastMessageFrom = models.SenderContact
	conversation.UnreadCount++
	if err := s.db.Save(conversation).Error; err != nil {
		return nil, nil, fmt.Errorf("update conversation: %w", err)
	}

	message := models.Message{
		ConversationID: conversation.ID,
		Sender:         models.SenderContact,
		SenderName:     contact.Name,
		Text:           text,
		Status:         models.StatusReceived,
		Timestamp:      now,
	}
	if providerMessageID != "" {
		message.WhatsAppMessageID = &providerMessageID
	}
	if !providerTime.IsZero() {
		message.WhatsAppTimestamp = &providerTime
	}
	if err := s.db.Create(&message).Error; err != nil {
		return nil, nil, fmt.Errorf("create message: %w", err)
	}

	return conversation, &message, nil
}

// MarkRead resets the unread counter.
func (s *Service) MarkRead(conversationID uint) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := s.db.First(&conversation, conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := s.db.Model(&conversation).Update("unread_count", 0).Error; err != nil {
		return nil, err
	}
	conversation.UnreadCount = 0
	return &conversation, nil
}
