package api

import (
	"errors"
	"net/http"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type ContactHandler struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewContactHandler(db *gorm.DB, log zerolog.Logger) *ContactHandler {
	return &ContactHandler{db: db, log: log}
}

func (h *ContactHandler) List(c *gin.Context) {
	q := h.db.Order("last_contact DESC NULLS LAST")
	if search := c.Query("search"); search != "" {
		like := "%" + search + "%"
		q = q.Where("name LIKE ? OR phone LIKE ? OR email LIKE ?", like, like, like)
	}
	if tag := c.Query("tag"); tag != "" {
		q = q.Where("tags LIKE ?", "%\""+tag+"\"%")
	}

	var contacts []models.Contact
	if err := q.Find(&contacts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts, "count": len(contacts)})
}

func (h *ContactHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var contact models.Contact
	err := h.db.First(&contact, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, contact)
}

type contactRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Tags  string `json:"tags"`
	Notes string `json:"notes"`
}

func (h *ContactHandler) Create(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone is required"})
		return
	}

	contact := models.Contact{
		Phone: whatsapp.NormalizePhone(req.Phone),
		Name:  req.Name,
		Email: req.Email,
		Tags:  req.Tags,
		Notes: req.Notes,
	}

	var count int64
	if err := h.db.Model(&models.Contact{}).Where("phone = ?", contact.Phone).Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "contact with this phone already exists"})
		return
	}

	if err := h.db.Create(&contact).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, contact)
}

// Update edits a contact. A renamed contact also has its open conversation
// snapshots updated so the inbox shows the new name immediately.
func (h *ContactHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var contact models.Contact
	err := h.db.First(&contact, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Phone != "" {
		normalized := whatsapp.NormalizePhone(req.Phone)
		if normalized != contact.Phone {
			var count int64
			if err := h.db.Model(&models.Contact{}).Where("phone = ? AND id <> ?", normalized, contact.ID).Count(&count).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if count > 0 {
				c.JSON(http.StatusConflict, gin.H{"error": "another contact already uses this phone"})
				return
			}
			updates["phone"] = normalized
		}
	}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Email != "" {
		updates["email"] = req.Email
	}
	if req.Tags != "" {
		updates["tags"] = req.Tags
	}
	if req.Notes != "" {
		updates["notes"] = req.Notes
	}

	if len(updates) > 0 {
		if err := h.db.Model(&contact).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if name, ok := updates["name"]; ok {
			err = h.db.Model(&models.Conversation{}).
				Where("contact_id = ?", contact.ID).
				Update("contact_name", name).Error
			if err != nil {
				h.log.Error().Err(err).Uint("contact_id", contact.ID).Msg("conversation rename failed")
			}
		}
	}

	h.db.First(&contact, contact.ID)
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	result := h.db.Delete(&models.Contact{}, id)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": result.Error.Error()})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
