package api

import (
	"errors"
	"net/http"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/templates"
	"whatsapp-crm/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type TemplateHandler struct {
	svc    *templates.Service
	client *whatsapp.Client
	log    zerolog.Logger
}

func NewTemplateHandler(svc *templates.Service, client *whatsapp.Client, log zerolog.Logger) *TemplateHandler {
	return &TemplateHandler{svc: svc, client: client, log: log}
}

func (h *TemplateHandler) List(c *gin.Context) {
	list, err := h.svc.List(templates.ListFilter{
		Status:   c.Query("status"),
		Approval: c.Query("approval"),
		Category: c.Query("category"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": list, "count": len(list)})
}

func (h *TemplateHandler) Get(c *gin.Context) {
	template, err := h.svc.Get(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

type templateRequest struct {
	Name       string `json:"name"`
	Category   string `json:"category"`
	Language   string `json:"language"`
	Status     string `json:"status"`
	HeaderType string `json:"header_type"`
	HeaderText string `json:"header_text"`
	Body       string `json:"body"`
	Footer     string `json:"footer"`
	Buttons    string `json:"buttons"`
	CreatedBy  string `json:"created_by"`
}

func (h *TemplateHandler) Create(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	template := models.Template{
		Name:       req.Name,
		Category:   req.Category,
		Language:   req.Language,
		Status:     req.Status,
		HeaderType: req.HeaderType,
		HeaderText: req.HeaderText,
		Body:       req.Body,
		Footer:     req.Footer,
		Buttons:    req.Buttons,
		CreatedBy:  req.CreatedBy,
	}
	if err := h.svc.Create(&template); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, template)
}

func (h *TemplateHandler) Update(c *gin.Context) {
	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	template, err := h.svc.Update(c.Param("id"), updates)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, template)
}

func (h *TemplateHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Sync pulls the provider's template catalog and upserts it locally.
func (h *TemplateHandler) Sync(c *gin.Context) {
	catalog, err := h.client.GetTemplates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "fetch template catalog: " + err.Error()})
		return
	}

	result, err := h.svc.Sync(catalog)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "synced", "result": result})
}

func (h *TemplateHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, templates.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "template not found"})
	case errors.Is(err, templates.ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
