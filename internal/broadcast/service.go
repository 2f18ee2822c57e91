// Package broadcast implements the campaign lifecycle: creation, the
// rate-limited sequential send loop, pause/resume/cancel, the stats
// reconciliation engine and the scheduler that drives both.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/whatsapp"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	ErrNotFound          = errors.New("broadcast not found")
	ErrInvalidTransition = errors.New("invalid broadcast state transition")
	ErrNoContent         = errors.New("either a template name or a message body is required")
)

// Gateway is the outbound provider surface the send loop depends on.
type Gateway interface {
	SendText(ctx context.Context, to, body string) (*whatsapp.SendResult, error)
	SendTemplate(ctx context.Context, to, templateName, language string, variables []string) (*whatsapp.SendResult, error)
}

// Inbox records the conversation/message side effects of a send attempt.
type Inbox interface {
	RecordOutbound(phone, text, providerMessageID string, broadcastID *string) (*models.Conversation, *models.Message, error)
	RecordFailure(phone, text, errorMessage string, broadcastID *string) (*models.Message, error)
}

// Publisher pushes realtime events to connected subscribers.
type Publisher interface {
	Publish(eventType string, data interface{})
}

type Options struct {
	SendInterval time.Duration // delay between recipients, the provider rate-limit contract
	SyncWindow   time.Duration // how far back the drift sweep looks
}

type Service struct {
	db      *gorm.DB
	gateway Gateway
	inbox   Inbox
	pub     Publisher
	log     zerolog.Logger

	sendInterval time.Duration
	syncWindow   time.Duration
}

func NewService(db *gorm.DB, gateway Gateway, inbox Inbox, pub Publisher, log zerolog.Logger, opts Options) *Service {
	if opts.SendInterval <= 0 {
		opts.SendInterval = time.Second
	}
	if opts.SyncWindow <= 0 {
		opts.SyncWindow = time.Hour
	}
	return &Service{
		db:           db,
		gateway:      gateway,
		inbox:        inbox,
		pub:          pub,
		log:          log,
		sendInterval: opts.SendInterval,
		syncWindow:   opts.SyncWindow,
	}
}

func (s *Service) publish(eventType string, data interface{}) {
	if s.pub != nil {
		s.pub.Publish(eventType, data)
	}
}

// CreateInput carries everything needed to create a campaign.
type CreateInput struct {
	Name         string
	MessageType  string // template or text; inferred when empty
	Message      string
	TemplateName string
	Language     string
	Recipients   []Recipient
	ScheduledAt  *time.Time
	CreatedBy    string
}

// Create validates the input and persists a new broadcast in draft status,
// or scheduled when a send time is set.
func (s *Service) Create(in CreateInput) (*models.Broadcast, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("broadcast name is required")
	}
	if len(in.Recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if in.TemplateName == "" && in.Message == "" {
		return nil, ErrNoContent
	}

	messageType := in.MessageType
	if messageType == "" {
		messageType = "text"
		if in.TemplateName != "" {
			messageType = "template"
		}
	}

	language := in.Language
	if language == "" {
		language = "en_US"
	}

	status := models.BroadcastDraft
	if in.ScheduledAt != nil {
		status = models.BroadcastScheduled
	}

	recipients := make([]models.BroadcastRecipient, 0, len(in.Recipients))
	for i, r := range in.Recipients {
		variables, _ := json.Marshal(r.Variables)
		rowData, _ := json.Marshal(r.RowData)
		recipients = append(recipients, models.BroadcastRecipient{
			Position:  i,
			Phone:     whatsapp.NormalizePhone(r.Phone),
			Name:      r.Name,
			Variables: string(variables),
			RowData:   string(rowData),
		})
	}

	broadcast := models.Broadcast{
		Name:         in.Name,
		MessageType:  messageType,
		Message:      in.Message,
		TemplateName: in.TemplateName,
		Language:     language,
		Recipients:   recipients,
		Status:       status,
		ScheduledAt:  in.ScheduledAt,
		CreatedBy:    in.CreatedBy,
	}
	if err := s.db.Create(&broadcast).Error; err != nil {
		return nil, fmt.Errorf("create broadcast: %w", err)
	}
	return &broadcast, nil
}

// Get loads a broadcast with its ordered recipient list.
func (s *Service) Get(id string) (*models.Broadcast, error) {
	var broadcast models.Broadcast
	err := s.db.Preload("Recipients", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	}).First(&broadcast, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &broadcast, nil
}

// List returns broadcasts newest first, optionally filtered.
func (s *Service) List(status, createdBy string) ([]models.Broadcast, error) {
	q := s.db.Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if createdBy != "" {
		q = q.Where("created_by = ?", createdBy)
	}
	var broadcasts []models.Broadcast
	if err := q.Find(&broadcasts).Error; err != nil {
		return nil, err
	}
	return broadcasts, nil
}

// Delete removes a broadcast and, via the FK constraint, its recipients.
func (s *Service) Delete(id string) error {
	result := s.db.Delete(&models.Broadcast{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Pause suspends a scheduled broadcast before it starts sending.
func (s *Service) Pause(id string) (*models.Broadcast, error) {
	return s.transition(id, []string{models.BroadcastScheduled}, map[string]interface{}{
		"status": models.BroadcastPaused,
	})
}

// Resume puts a paused broadcast back on the schedule. A send time already
// in the past is bumped to now so the next scheduler tick picks it up.
func (s *Service) Resume(id string) (*models.Broadcast, error) {
	broadcast, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{"status": models.BroadcastScheduled}
	if broadcast.ScheduledAt == nil || broadcast.ScheduledAt.Before(time.Now()) {
		now := time.Now()
		updates["scheduled_at"] = now
		broadcast.ScheduledAt = &now
	}

	result := s.db.Model(&models.Broadcast{}).
		Where("id = ? AND status = ?", id, models.BroadcastPaused).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		current, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cannot resume broadcast in status %q", ErrInvalidTransition, current.Status)
	}
	broadcast.Status = models.BroadcastScheduled
	return broadcast, nil
}

// Cancel terminally stops a broadcast that has not started sending.
func (s *Service) Cancel(id string) (*models.Broadcast, error) {
	return s.transition(id, []string{models.BroadcastScheduled, models.BroadcastPaused}, map[string]interface{}{
		"status": models.BroadcastCancelled,
	})
}

// transition applies updates only when the broadcast is in one of the
// allowed states. The state check and the write are one conditional update,
// so a racing transition cannot slip between them; a rejected transition
// writes nothing.
func (s *Service) transition(id string, allowed []string, updates map[string]interface{}) (*models.Broadcast, error) {
	broadcast, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	result := s.db.Model(&models.Broadcast{}).
		Where("id = ? AND status IN ?", id, allowed).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		current, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cannot move broadcast from status %q to %q",
			ErrInvalidTransition, current.Status, updates["status"])
	}
	broadcast.Status = updates["status"].(string)
	return broadcast, nil
}

// RecipientResult is the per-recipient outcome of a send loop.
type RecipientResult struct {
	Phone     string `json:"phone"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SendOutcome aggregates a completed send loop.
type SendOutcome struct {
	Broadcast  *models.Broadcast `json:"broadcast"`
	Results    []RecipientResult `json:"results"`
	Total      int               `json:"total"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
}

// Send drives the whole delivery loop for one broadcast: recipients strictly
// in list order, one provider call at a time, a fixed delay between sends.
// Per-recipient failures are isolated; the loop always runs to the end and
// the broadcast always finishes in completed status.
func (s *Service) Send(ctx context.Context, id string) (*SendOutcome, error) {
	broadcast, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	// Claiming the sending state is a single conditional write so two
	// concurrent callers (the send endpoint and the scheduler tick) can
	// never both run the recipient loop.
	now := time.Now()
	claim := s.db.Model(&models.Broadcast{}).
		Where("id = ? AND status IN ?", id, []string{models.BroadcastDraft, models.BroadcastScheduled}).
		Updates(map[string]interface{}{
			"status":     models.BroadcastSending,
			"started_at": now,
		})
	if claim.Error != nil {
		return nil, fmt.Errorf("mark broadcast sending: %w", claim.Error)
	}
	if claim.RowsAffected == 0 {
		current, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cannot send broadcast in status %q", ErrInvalidTransition, current.Status)
	}

	// One token per send interval, burst 1: the first send goes out
	// immediately and there is no trailing delay after the last one.
	limiter := rate.NewLimiter(rate.Every(s.sendInterval), 1)

	outcome := &SendOutcome{Total: len(broadcast.Recipients)}
	for _, recipient := range broadcast.Recipients {
		if err := limiter.Wait(ctx); err != nil {
			s.log.Warn().Err(err).Str("broadcast_id", id).Msg("send loop interrupted")
		}

		result := s.deliver(ctx, broadcast, recipient)
		if result.Success {
			outcome.Successful++
		} else {
			outcome.Failed++
			s.log.Warn().
				Str("broadcast_id", id).
				Str("phone", recipient.Phone).
				Str("error", result.Error).
				Msg("recipient delivery failed")
		}
		outcome.Results = append(outcome.Results, result)
	}

	completed := time.Now()
	err = s.db.Model(&models.Broadcast{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       models.BroadcastCompleted,
		"completed_at": completed,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("mark broadcast completed: %w", err)
	}

	if _, err := s.SyncStats(id); err != nil {
		s.log.Error().Err(err).Str("broadcast_id", id).Msg("post-send stats sync")
	}

	broadcast, err = s.Get(id)
	if err != nil {
		return nil, err
	}
	outcome.Broadcast = broadcast
	return outcome, nil
}

// deliver handles a single recipient end to end. Every error path is
// converted into a failed RecipientResult so the caller's loop never stops.
func (s *Service) deliver(ctx context.Context, broadcast *models.Broadcast, recipient models.BroadcastRecipient) RecipientResult {
	result := RecipientResult{Phone: recipient.Phone}

	var variables []string
	if recipient.Variables != "" {
		if err := json.Unmarshal([]byte(recipient.Variables), &variables); err != nil {
			s.log.Warn().Err(err).Str("phone", recipient.Phone).Msg("decode recipient variables")
		}
	}
	var rowData map[string]string
	if recipient.RowData != "" {
		if err := json.Unmarshal([]byte(recipient.RowData), &rowData); err != nil {
			s.log.Warn().Err(err).Str("phone", recipient.Phone).Msg("decode recipient row data")
		}
	}

	var sendResult *whatsapp.SendResult
	var inboxText string
	var sendErr error

	switch broadcast.MessageType {
	case "template":
		inboxText, sendResult, sendErr = s.deliverTemplate(ctx, broadcast, recipient.Phone, variables, rowData)
	default:
		inboxText = ResolveVariables(broadcast.Message, variables, rowData)
		sendResult, sendErr = s.gateway.SendText(ctx, recipient.Phone, inboxText)
	}

	if sendErr != nil {
		result.Error = sendErr.Error()
		if err := s.bumpStats(broadcast.ID, map[string]int{"stats_failed": 1}); err != nil {
			s.log.Error().Err(err).Str("broadcast_id", broadcast.ID).Msg("increment failed counter")
		}
		// The failed attempt still becomes a message so stats recomputation
		// counts it.
		if inboxText == "" {
			inboxText = broadcast.Message
		}
		if _, err := s.inbox.RecordFailure(recipient.Phone, inboxText, sendErr.Error(), &broadcast.ID); err != nil {
			s.log.Error().Err(err).Str("phone", recipient.Phone).Msg("record failed send")
		}
		return result
	}

	result.Success = true
	result.MessageID = sendResult.MessageID

	if err := s.bumpStats(broadcast.ID, map[string]int{"stats_sent": 1}); err != nil {
		s.log.Error().Err(err).Str("broadcast_id", broadcast.ID).Msg("increment sent counter")
	}

	conversation, message, err := s.inbox.RecordOutbound(recipient.Phone, inboxText, sendResult.MessageID, &broadcast.ID)
	if err != nil {
		// The provider accepted the message; inbox bookkeeping failure must
		// not turn the recipient into a delivery failure.
		s.log.Error().Err(err).Str("phone", recipient.Phone).Msg("record outbound message")
		return result
	}

	s.publish("message_sent", map[string]interface{}{
		"conversation": conversation,
		"message":      message,
	})
	return result
}

// deliverTemplate resolves and sends a template-typed recipient. A missing
// or unapproved template is a per-recipient failure, not a campaign abort.
func (s *Service) deliverTemplate(ctx context.Context, broadcast *models.Broadcast, phone string, variables []string, rowData map[string]string) (string, *whatsapp.SendResult, error) {
	var template models.Template
	err := s.db.Where("name = ?", broadcast.TemplateName).First(&template).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, fmt.Errorf("template %q not found", broadcast.TemplateName)
	}
	if err != nil {
		return "", nil, fmt.Errorf("load template %q: %w", broadcast.TemplateName, err)
	}
	if template.Approval != models.TemplateApproved {
		return "", nil, fmt.Errorf("template %q is not active (status: %s)", template.Name, template.Status)
	}

	content := template.Body
	if template.HeaderText != "" {
		content = template.HeaderText + "\n" + content
	}
	if template.Footer != "" {
		content = content + "\n" + template.Footer
	}
	inboxText := ResolveVariables(content, variables, rowData)

	// Only pass body parameters when the template body actually has
	// placeholder slots; the provider rejects parameter-count mismatches.
	sendVariables := variables
	if !hasPlaceholders(template.Body) {
		sendVariables = nil
	}

	sendResult, err := s.gateway.SendTemplate(ctx, phone, broadcast.TemplateName, broadcast.Language, sendVariables)
	if err != nil {
		return inboxText, nil, err
	}

	if err := s.db.Model(&models.Template{}).Where("id = ?", template.ID).
		UpdateColumn("usage_count", gorm.Expr("usage_count + 1")).Error; err != nil {
		s.log.Warn().Err(err).Str("template", template.Name).Msg("increment template usage")
	}

	return inboxText, sendResult, nil
}

// bumpStats applies atomic field-level increments to a broadcast's stats
// columns. This is the only mutation primitive both stats writers use.
func (s *Service) bumpStats(id string, deltas map[string]int) error {
	updates := map[string]interface{}{}
	for column, delta := range deltas {
		if delta != 0 {
			updates[column] = gorm.Expr(column+" + ?", delta)
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.Model(&models.Broadcast{}).Where("id = ?", id).UpdateColumns(updates).Error
}

// DispatchDue sends every scheduled broadcast whose time has come, one full
// campaign at a time in query order.
func (s *Service) DispatchDue(ctx context.Context) error {
	var due []models.Broadcast
	err := s.db.Where("status = ? AND scheduled_at <= ?", models.BroadcastScheduled, time.Now()).
		Order("created_at ASC").Find(&due).Error
	if err != nil {
		return fmt.Errorf("query due broadcasts: %w", err)
	}

	for _, broadcast := range due {
		s.log.Info().Str("broadcast_id", broadcast.ID).Str("name", broadcast.Name).Msg("dispatching scheduled broadcast")
		if _, err := s.Send(ctx, broadcast.ID); err != nil {
			s.log.Error().Err(err).Str("broadcast_id", broadcast.ID).Msg("scheduled send failed")
		}
	}
	return nil
}
