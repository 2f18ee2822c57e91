package api

import (
	"net/http"
	"time"

	"whatsapp-crm/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AnalyticsHandler struct {
	db *gorm.DB
}

func NewAnalyticsHandler(db *gorm.DB) *AnalyticsHandler {
	return &AnalyticsHandler{db: db}
}

// Dashboard aggregates the headline counters shown on the home screen.
func (h *AnalyticsHandler) Dashboard(c *gin.Context) {
	var (
		totalContacts       int64
		openConversations   int64
		unreadConversations int64
		messagesToday       int64
		totalBroadcasts     int64
		totalTemplates      int64
	)

	h.db.Model(&models.Contact{}).Count(&totalContacts)
	h.db.Model(&models.Conversation{}).
		Where("status IN ?", []string{models.ConversationActive, models.ConversationPending}).
		Count(&openConversations)
	h.db.Model(&models.Conversation{}).Where("unread_count > 0").Count(&unreadConversations)

	startOfDay := time.Now().Truncate(24 * time.Hour)
	h.db.Model(&models.Message{}).Where("timestamp >= ?", startOfDay).Count(&messagesToday)

	h.db.Model(&models.Broadcast{}).Count(&totalBroadcasts)
	h.db.Model(&models.Template{}).Count(&totalTemplates)

	var totals models.BroadcastStats
	h.db.Model(&models.Broadcast{}).
		Select(`COALESCE(SUM(stats_sent),0) AS sent, COALESCE(SUM(stats_delivered),0) AS delivered, COALESCE(SUM(stats_read),0) AS "read", COALESCE(SUM(stats_failed),0) AS failed, COALESCE(SUM(stats_replied),0) AS replied`).
		Scan(&totals)

	c.JSON(http.StatusOK, gin.H{
		"contacts": gin.H{"total": totalContacts},
		"conversations": gin.H{
			"open":   openConversations,
			"unread": unreadConversations,
		},
		"messages":   gin.H{"today": messagesToday},
		"broadcasts": gin.H{"total": totalBroadcasts, "stats": totals},
		"templates":  gin.H{"total": totalTemplates},
	})
}

// BroadcastReport breaks campaign outcomes down per broadcast.
func (h *AnalyticsHandler) BroadcastReport(c *gin.Context) {
	var broadcasts []models.Broadcast
	q := h.db.Order("created_at DESC").Limit(50)
	if status := c.Query("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&broadcasts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type row struct {
		ID             string               `json:"id"`
		Name           string               `json:"name"`
		Status         string               `json:"status"`
		RecipientCount int                  `json:"recipient_count"`
		Stats          models.BroadcastStats `json:"stats"`
		DeliveryRate   float64              `json:"delivery_rate"`
		ReadRate       float64              `json:"read_rate"`
	}

	rows := make([]row, 0, len(broadcasts))
	for _, b := range broadcasts {
		r := row{
			ID:             b.ID,
			Name:           b.Name,
			Status:         b.Status,
			RecipientCount: b.RecipientCount,
			Stats:          b.Stats,
		}
		if b.Stats.Sent > 0 {
			r.DeliveryRate = float64(b.Stats.Delivered) / float64(b.Stats.Sent)
			r.ReadRate = float64(b.Stats.Read) / float64(b.Stats.Sent)
		}
		rows = append(rows, r)
	}

	c.JSON(http.StatusOK, gin.H{"broadcasts": rows, "count": len(rows)})
}
