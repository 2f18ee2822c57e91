package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"whatsapp-crm/internal/broadcast"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type BroadcastHandler struct {
	svc *broadcast.Service
	log zerolog.Logger
}

func NewBroadcastHandler(svc *broadcast.Service, log zerolog.Logger) *BroadcastHandler {
	return &BroadcastHandler{svc: svc, log: log}
}

type createBroadcastRequest struct {
	Name         string               `json:"name" binding:"required"`
	MessageType  string               `json:"message_type"`
	Message      string               `json:"message"`
	TemplateName string               `json:"template_name"`
	Language     string               `json:"language"`
	Recipients   []recipientPayload   `json:"recipients" binding:"required"`
	ScheduledAt  *time.Time           `json:"scheduled_at"`
	CreatedBy    string               `json:"created_by"`
}

type recipientPayload struct {
	Phone     string            `json:"phone" binding:"required"`
	Name      string            `json:"name"`
	Variables []string          `json:"variables"`
	RowData   map[string]string `json:"row_data"`
}

func (h *BroadcastHandler) Create(c *gin.Context) {
	var req createBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	recipients := make([]broadcast.Recipient, 0, len(req.Recipients))
	for _, r := range req.Recipients {
		recipients = append(recipients, broadcast.Recipient{
			Phone:     r.Phone,
			Name:      r.Name,
			Variables: r.Variables,
			RowData:   r.RowData,
		})
	}

	created, err := h.svc.Create(broadcast.CreateInput{
		Name:         req.Name,
		MessageType:  req.MessageType,
		Message:      req.Message,
		TemplateName: req.TemplateName,
		Language:     req.Language,
		Recipients:   recipients,
		ScheduledAt:  req.ScheduledAt,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *BroadcastHandler) List(c *gin.Context) {
	broadcasts, err := h.svc.List(c.Query("status"), c.Query("created_by"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"broadcasts": broadcasts, "count": len(broadcasts)})
}

func (h *BroadcastHandler) Get(c *gin.Context) {
	b, err := h.svc.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// Send kicks off the delivery loop in the background. The loop walks the
// recipient list sequentially with the configured pacing, so a large
// broadcast can take minutes; the caller polls the broadcast for progress.
func (h *BroadcastHandler) Send(c *gin.Context) {
	id := c.Param("id")
	b, err := h.svc.Get(id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	go func() {
		if _, err := h.svc.Send(context.Background(), id); err != nil {
			h.log.Error().Err(err).Str("broadcast_id", id).Msg("broadcast send failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "sending",
		"broadcast":  b.ID,
		"recipients": b.RecipientCount,
	})
}

func (h *BroadcastHandler) Pause(c *gin.Context) {
	b, err := h.svc.Pause(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BroadcastHandler) Resume(c *gin.Context) {
	b, err := h.svc.Resume(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BroadcastHandler) Cancel(c *gin.Context) {
	b, err := h.svc.Cancel(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BroadcastHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// SyncStats recomputes the broadcast's counters from its linked messages.
func (h *BroadcastHandler) SyncStats(c *gin.Context) {
	stats, err := h.svc.SyncStats(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// CheckScheduled runs one dispatcher pass on demand, outside the cron tick.
func (h *BroadcastHandler) CheckScheduled(c *gin.Context) {
	if err := h.svc.DispatchDue(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "checked"})
}

func (h *BroadcastHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, broadcast.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "broadcast not found"})
	case errors.Is(err, broadcast.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
