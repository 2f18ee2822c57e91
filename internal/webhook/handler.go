// Package webhook receives WhatsApp Cloud API notifications: inbound
// messages feed the inbox and reply counters, delivery receipts feed the
// broadcast reconciliation engine.
package webhook

import (
	"net/http"
	"strconv"
	"time"

	"whatsapp-crm/internal/broadcast"
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/inbox"
	"whatsapp-crm/internal/whatsapp"
	"whatsapp-crm/internal/ws"
	"whatsapp-crm/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type Handler struct {
	cfg       *config.Config
	inbox     *inbox.Service
	broadcast *broadcast.Service
	hub       *ws.Hub
	log       zerolog.Logger
}

func NewHandler(cfg *config.Config, inboxSvc *inbox.Service, broadcastSvc *broadcast.Service, hub *ws.Hub, log zerolog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		inbox:     inboxSvc,
		broadcast: broadcastSvc,
		hub:       hub,
		log:       log,
	}
}

// VerifyWebhook answers Meta's subscription handshake.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || token != h.cfg.VerifyToken {
		c.Status(http.StatusForbidden)
		return
	}
	h.log.Info().Msg("webhook verified")
	c.String(http.StatusOK, challenge)
}

// HandleNotification processes one webhook POST. Always answers 200:
// WhatsApp retries on any other status and a poison payload would wedge the
// subscription.
func (h *Handler) HandleNotification(c *gin.Context) {
	var payload models.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.log.Warn().Err(err).Msg("webhook payload decode failed")
		c.Status(http.StatusOK)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			h.processValue(change.Value)
		}
	}
	c.Status(http.StatusOK)
}

func (h *Handler) processValue(value models.WebhookValue) {
	names := map[string]string{}
	for _, contact := range value.Contacts {
		names[contact.WaID] = contact.Profile.Name
	}

	for _, message := range value.Messages {
		h.handleInbound(message, names[message.From])
	}
	for _, status := range value.Statuses {
		h.handleStatus(status)
	}
}

// handleInbound records a contact message. The webhook's from field has no
// plus prefix, so it is normalized before any phone lookup.
func (h *Handler) handleInbound(message models.WebhookMessage, profileName string) {
	phone := whatsapp.NormalizePhone(message.From)
	text := messageText(message)

	conversation, stored, err := h.inbox.RecordInbound(phone, profileName, text, message.ID, parseTimestamp(message.Timestamp))
	if err != nil {
		h.log.Error().Err(err).Str("from", phone).Msg("record inbound message failed")
		return
	}

	h.log.Info().
		Str("from", phone).
		Str("type", message.Type).
		Uint("conversation_id", conversation.ID).
		Msg("inbound message")

	h.hub.Publish("new_message", gin.H{
		"conversation_id": conversation.ID,
		"message":         stored,
	})

	if err := h.broadcast.RecordReply(conversation, stored); err != nil {
		h.log.Error().Err(err).Str("from", phone).Msg("record reply failed")
	}
}

func (h *Handler) handleStatus(status models.WebhookStatus) {
	if err := h.broadcast.ApplyStatusUpdate(status.ID, status.Status); err != nil {
		h.log.Error().Err(err).
			Str("message_id", status.ID).
			Str("status", status.Status).
			Msg("apply status update failed")
	}
}

func messageText(message models.WebhookMessage) string {
	switch message.Type {
	case "text":
		if message.Text != nil {
			return message.Text.Body
		}
	case "image":
		return mediaText("image", message.Image)
	case "video":
		return mediaText("video", message.Video)
	case "audio":
		return mediaText("audio", message.Audio)
	case "document":
		if message.Document != nil && message.Document.Filename != "" {
			return "[document] " + message.Document.Filename
		}
		return mediaText("document", message.Document)
	}
	return "[" + message.Type + "]"
}

func mediaText(kind string, media *models.MediaMessage) string {
	if media != nil && media.Caption != "" {
		return "[" + kind + "] " + media.Caption
	}
	return "[" + kind + "]"
}

func parseTimestamp(value string) time.Time {
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(seconds, 0)
}
