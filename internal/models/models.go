package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation statuses. A contact has at most one conversation in an open
// status (active or pending) at a time.
const (
	ConversationActive   = "active"
	ConversationPending  = "pending"
	ConversationResolved = "resolved"
	ConversationArchived = "archived"
)

// Message sender roles
const (
	SenderContact = "contact"
	SenderAgent   = "agent"
	SenderBot     = "bot"
	SenderSystem  = "system"
)

// Message delivery statuses
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
	StatusReceived  = "received"
)

// Broadcast lifecycle states
const (
	BroadcastDraft     = "draft"
	BroadcastScheduled = "scheduled"
	BroadcastSending   = "sending"
	BroadcastCompleted = "completed"
	BroadcastPaused    = "paused"
	BroadcastCancelled = "cancelled"
)

// TemplateApprovalState is the normalized template approval status, computed
// once when a template is created or synced from the provider.
type TemplateApprovalState string

const (
	TemplateApproved TemplateApprovalState = "approved"
	TemplatePending  TemplateApprovalState = "pending"
	TemplateRejected TemplateApprovalState = "rejected"
	TemplateDraft    TemplateApprovalState = "draft"
)

// Contact represents a WhatsApp contact, keyed by phone number
type Contact struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Phone       string     `gorm:"type:varchar(50);not null;uniqueIndex" json:"phone"`
	Name        string     `gorm:"type:varchar(255)" json:"name"`
	Email       string     `gorm:"type:varchar(255)" json:"email"`
	Tags        string     `gorm:"type:text" json:"tags"` // JSON array of strings
	Notes       string     `gorm:"type:text" json:"notes"`
	IsBlocked   bool       `gorm:"default:false" json:"is_blocked"`
	LastContact *time.Time `json:"last_contact"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// Conversation is the single open thread of messages with one contact
type Conversation struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ContactID       uint       `gorm:"index" json:"contact_id"`
	ContactPhone    string     `gorm:"type:varchar(50);not null;index:idx_conversations_phone_status" json:"contact_phone"`
	ContactName     string     `gorm:"type:varchar(255)" json:"contact_name"`
	Status          string     `gorm:"type:varchar(20);default:'active';index:idx_conversations_phone_status" json:"status"`
	Priority        string     `gorm:"type:varchar(10);default:'medium'" json:"priority"`
	AssignedTo      string     `gorm:"type:varchar(255)" json:"assigned_to"`
	LastMessage     string     `gorm:"type:text" json:"last_message"`
	LastMessageTime time.Time  `json:"last_message_time"`
	LastMessageFrom string     `gorm:"type:varchar(20)" json:"last_message_from"`
	UnreadCount     int        `gorm:"default:0" json:"unread_count"`
	Notes           string     `gorm:"type:text" json:"notes"`
	ResolvedAt      *time.Time `json:"resolved_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// BeforeSave stamps ResolvedAt exactly once on the transition to resolved.
func (c *Conversation) BeforeSave(tx *gorm.DB) error {
	if c.Status == ConversationResolved && c.ResolvedAt == nil {
		now := time.Now()
		c.ResolvedAt = &now
	}
	return nil
}

// Message is immutable once created except for status transitions
type Message struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	ConversationID    uint       `gorm:"not null;index:idx_messages_conversation_ts" json:"conversation_id"`
	BroadcastID       *string    `gorm:"type:varchar(36);index" json:"broadcast_id"`
	Sender            string     `gorm:"type:varchar(20);not null" json:"sender"`
	SenderName        string     `gorm:"type:varchar(255)" json:"sender_name"`
	Text              string     `gorm:"type:text" json:"text"`
	MediaURL          string     `gorm:"type:text" json:"media_url"`
	MediaType         string     `gorm:"type:varchar(20)" json:"media_type"`
	MediaCaption      string     `gorm:"type:text" json:"media_caption"`
	Status            string     `gorm:"type:varchar(20);default:'sent';index" json:"status"`
	WhatsAppMessageID *string    `gorm:"column:whatsapp_message_id;type:varchar(255);uniqueIndex" json:"whatsapp_message_id"`
	WhatsAppTimestamp *time.Time `json:"whatsapp_timestamp"`
	ErrorMessage      string     `gorm:"type:text" json:"error_message"`
	Timestamp         time.Time  `gorm:"index:idx_messages_conversation_ts" json:"timestamp"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return nil
}

// Template represents a provider-approved, parameterized message structure
type Template struct {
	ID                 string                `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name               string                `gorm:"type:varchar(255);not null;uniqueIndex" json:"name"`
	Type               string                `gorm:"type:varchar(20);default:'official'" json:"type"` // official or custom
	Category           string                `gorm:"type:varchar(100);default:'general'" json:"category"`
	Language           string                `gorm:"type:varchar(50);default:'en_US'" json:"language"`
	Status             string                `gorm:"type:varchar(50)" json:"status"` // raw provider status
	Approval           TemplateApprovalState `gorm:"type:varchar(20);default:'draft';index" json:"approval"`
	HeaderType         string                `gorm:"type:varchar(20)" json:"header_type"`
	HeaderText         string                `gorm:"type:text" json:"header_text"`
	Body               string                `gorm:"type:text" json:"body"`
	Footer             string                `gorm:"type:text" json:"footer"`
	Buttons            string                `gorm:"type:text" json:"buttons"`   // JSON buttons
	Variables          string                `gorm:"type:text" json:"variables"` // JSON variable slots
	WhatsAppTemplateID string                `gorm:"column:whatsapp_template_id;type:varchar(255);index" json:"whatsapp_template_id"`
	UsageCount         int                   `gorm:"default:0" json:"usage_count"`
	CreatedBy          string                `gorm:"type:varchar(255)" json:"created_by"`
	SyncedAt           *time.Time            `json:"synced_at"`
	CreatedAt          time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Template) TableName() string {
	return "templates"
}

func (t *Template) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// BroadcastStats holds the campaign's aggregate counters. Mutated by the
// orchestrator during the send loop and by the reconciliation engine from
// delivery callbacks; the periodic sweep corrects residual drift.
type BroadcastStats struct {
	Sent      int `gorm:"default:0" json:"sent"`
	Delivered int `gorm:"default:0" json:"delivered"`
	Read      int `gorm:"default:0" json:"read"`
	Failed    int `gorm:"default:0" json:"failed"`
	Replied   int `gorm:"default:0" json:"replied"`
}

// Broadcast is the campaign aggregate
type Broadcast struct {
	ID             string               `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name           string               `gorm:"type:varchar(255);not null" json:"name"`
	MessageType    string               `gorm:"type:varchar(20);default:'text'" json:"message_type"` // template or text
	Message        string               `gorm:"type:text" json:"message"`
	TemplateName   string               `gorm:"type:varchar(255)" json:"template_name"`
	Language       string               `gorm:"type:varchar(50);default:'en_US'" json:"language"`
	Recipients     []BroadcastRecipient `gorm:"foreignKey:BroadcastID;constraint:OnDelete:CASCADE;" json:"recipients"`
	RecipientCount int                  `gorm:"default:0" json:"recipient_count"`
	Status         string               `gorm:"type:varchar(20);default:'draft';index" json:"status"`
	ScheduledAt    *time.Time           `json:"scheduled_at"`
	StartedAt      *time.Time           `json:"started_at"`
	CompletedAt    *time.Time           `gorm:"index" json:"completed_at"`
	Stats          BroadcastStats       `gorm:"embedded;embeddedPrefix:stats_" json:"stats"`
	CreatedBy      string               `gorm:"type:varchar(255)" json:"created_by"`
	CreatedAt      time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Broadcast) TableName() string {
	return "broadcasts"
}

func (b *Broadcast) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.RecipientCount == 0 {
		b.RecipientCount = len(b.Recipients)
	}
	return nil
}

// BroadcastRecipient is one entry of a broadcast's ordered recipient list
type BroadcastRecipient struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	BroadcastID string `gorm:"type:varchar(36);index" json:"broadcast_id"`
	Position    int    `json:"position"`
	Phone       string `gorm:"type:varchar(50);not null" json:"phone"`
	Name        string `gorm:"type:varchar(255)" json:"name"`
	Variables   string `gorm:"type:text" json:"variables"` // JSON array of strings
	RowData     string `gorm:"type:text" json:"row_data"`  // JSON map of source row values
}

func (BroadcastRecipient) TableName() string {
	return "broadcast_recipients"
}
