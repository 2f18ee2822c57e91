package api

import (
	"errors"
	"net/http"

	"whatsapp-crm/internal/inbox"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/whatsapp"
	"whatsapp-crm/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type ConversationHandler struct {
	db     *gorm.DB
	inbox  *inbox.Service
	client *whatsapp.Client
	hub    *ws.Hub
	log    zerolog.Logger
}

func NewConversationHandler(db *gorm.DB, inboxSvc *inbox.Service, client *whatsapp.Client, hub *ws.Hub, log zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{db: db, inbox: inboxSvc, client: client, hub: hub, log: log}
}

func (h *ConversationHandler) List(c *gin.Context) {
	q := h.db.Order("last_message_time DESC")
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if assigned := c.Query("assigned_to"); assigned != "" {
		q = q.Where("assigned_to = ?", assigned)
	}
	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		q = q.Where("contact_name LIKE ? OR contact_phone LIKE ?", like, like)
	}

	var conversations []models.Conversation
	if err := q.Find(&conversations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations, "count": len(conversations)})
}

type createConversationRequest struct {
	Phone string `json:"phone" binding:"required"`
	Name  string `json:"name"`
}

// Create opens a thread for a contact. A contact can only ever have one
// conversation in an open status, so a second create for the same phone
// returns the existing thread with 409.
func (h *ConversationHandler) Create(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	phone := whatsapp.NormalizePhone(req.Phone)

	var existing models.Conversation
	err := h.db.Where("contact_phone = ? AND status IN ?", phone,
		[]string{models.ConversationActive, models.ConversationPending}).
		First(&existing).Error
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":        inbox.ErrConversationExists.Error(),
			"conversation": existing,
		})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	contact, err := h.inbox.UpsertContact(phone, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	conversation, err := h.inbox.OpenConversation(contact)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, conversation)
}

func (h *ConversationHandler) Get(c *gin.Context) {
	conversation, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, conversation)
}

type updateConversationRequest struct {
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	AssignedTo string `json:"assigned_to"`
	Notes      string `json:"notes"`
}

func (h *ConversationHandler) Update(c *gin.Context) {
	conversation, ok := h.load(c)
	if !ok {
		return
	}

	var req updateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Status != "" {
		conversation.Status = req.Status
	}
	if req.Priority != "" {
		conversation.Priority = req.Priority
	}
	if req.AssignedTo != "" {
		conversation.AssignedTo = req.AssignedTo
	}
	if req.Notes != "" {
		conversation.Notes = req.Notes
	}

	if err := h.db.Save(conversation).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conversation)
}

func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversation, ok := h.load(c)
	if !ok {
		return
	}

	updated, err := h.inbox.MarkRead(conversation.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.hub.Publish("conversation_read", gin.H{"conversation_id": updated.ID})
	c.JSON(http.StatusOK, updated)
}

func (h *ConversationHandler) Messages(c *gin.Context) {
	conversation, ok := h.load(c)
	if !ok {
		return
	}

	var messages []models.Message
	err := h.db.Where("conversation_id = ?", conversation.ID).
		Order("timestamp ASC").Find(&messages).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

type sendMessageRequest struct {
	Text      string `json:"text"`
	MediaURL  string `json:"media_url"`
	MediaType string `json:"media_type"` // image, video, audio or document
	Caption   string `json:"caption"`
}

// SendMessage delivers an agent reply through the provider, then records it
// in the thread. A media_url switches the send to a media message.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	conversation, ok := h.load(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Text == "" && req.MediaURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text or media_url is required"})
		return
	}

	var result *whatsapp.SendResult
	var err error
	text := req.Text
	if req.MediaURL != "" {
		result, err = h.client.SendMedia(c.Request.Context(), conversation.ContactPhone, req.MediaType, req.MediaURL, req.Caption)
		if text == "" {
			text = "[" + req.MediaType + "]"
			if req.Caption != "" {
				text += " " + req.Caption
			}
		}
	} else {
		result, err = h.client.SendText(c.Request.Context(), conversation.ContactPhone, req.Text)
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	_, message, err := h.inbox.RecordOutbound(conversation.ContactPhone, text, result.MessageID, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if req.MediaURL != "" {
		updates := map[string]interface{}{"media_url": req.MediaURL, "media_type": req.MediaType}
		if req.Caption != "" {
			updates["media_caption"] = req.Caption
		}
		if err := h.db.Model(message).Updates(updates).Error; err != nil {
			h.log.Error().Err(err).Uint("message_id", message.ID).Msg("store media fields")
		}
	}

	h.hub.Publish("message_sent", gin.H{
		"conversation_id": message.ConversationID,
		"message":         message,
	})
	c.JSON(http.StatusCreated, message)
}

func (h *ConversationHandler) load(c *gin.Context) (*models.Conversation, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}
	var conversation models.Conversation
	err := h.db.First(&conversation, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return &conversation, true
}
