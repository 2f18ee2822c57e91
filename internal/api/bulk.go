package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"unicode/utf8"

	"whatsapp-crm/internal/broadcast"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// BulkHandler turns an uploaded recipient file into a broadcast. The CSV
// body travels base64-encoded in JSON, matching how the dashboard reads
// files in the browser.
type BulkHandler struct {
	svc *broadcast.Service
	log zerolog.Logger
}

func NewBulkHandler(svc *broadcast.Service, log zerolog.Logger) *BulkHandler {
	return &BulkHandler{svc: svc, log: log}
}

type parseCSVRequest struct {
	Content string `json:"content" binding:"required"` // base64 or raw CSV text
}

// ParseCSV previews an uploaded file without creating anything.
func (h *BulkHandler) ParseCSV(c *gin.Context) {
	var req parseCSVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	content := decodeContent(req.Content)
	recipients, hasHeaders := broadcast.ParseCSV(content)
	if len(recipients) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no recipients found in file"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recipients":  recipients,
		"count":       len(recipients),
		"has_headers": hasHeaders,
	})
}

type bulkSendRequest struct {
	Name         string             `json:"name" binding:"required"`
	Recipients   []recipientPayload `json:"recipients"`
	Content      string             `json:"content"`
	Message      string             `json:"message"`
	TemplateName string             `json:"template_name"`
	Language     string             `json:"language"`
	CreatedBy    string             `json:"created_by"`
}

// Send creates a broadcast and starts delivery. A structured recipients
// array is the primary input; a CSV content body is the upload fallback.
func (h *BulkHandler) Send(c *gin.Context) {
	var req bulkSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var recipients []broadcast.Recipient
	if len(req.Recipients) > 0 {
		recipients = make([]broadcast.Recipient, 0, len(req.Recipients))
		for _, r := range req.Recipients {
			recipients = append(recipients, broadcast.Recipient{
				Phone:     r.Phone,
				Name:      r.Name,
				Variables: r.Variables,
				RowData:   r.RowData,
			})
		}
	} else if req.Content != "" {
		recipients, _ = broadcast.ParseCSV(decodeContent(req.Content))
	}
	if len(recipients) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no recipients provided"})
		return
	}

	created, err := h.svc.Create(broadcast.CreateInput{
		Name:         req.Name,
		Message:      req.Message,
		TemplateName: req.TemplateName,
		Language:     req.Language,
		Recipients:   recipients,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	go func() {
		if _, err := h.svc.Send(context.Background(), created.ID); err != nil {
			h.log.Error().Err(err).Str("broadcast_id", created.ID).Msg("bulk send failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "sending",
		"broadcast":  created.ID,
		"recipients": created.RecipientCount,
	})
}

// decodeContent accepts either base64-encoded or raw CSV text. Short raw
// inputs can accidentally be valid base64, so a decode only wins when the
// result is actually text.
func decodeContent(content string) string {
	if decoded, err := base64.StdEncoding.DecodeString(content); err == nil && looksLikeText(decoded) {
		return string(decoded)
	}
	return strings.ReplaceAll(content, "\\n", "\n")
}

func looksLikeText(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if r < ' ' && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
	}
	return true
}
