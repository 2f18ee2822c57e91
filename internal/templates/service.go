// Package templates manages the local template catalog: manual CRUD,
// variable-slot extraction and synchronization with the provider's catalog.
package templates

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/whatsapp"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("template not found")
	ErrDuplicateName = errors.New("template name already exists")
)

// Variable is one extracted placeholder slot of a template body.
type Variable struct {
	Name     string `json:"name"`
	Example  string `json:"example"`
	Required bool   `json:"required"`
}

var variablePattern = regexp.MustCompile(`\{\{(\d+)\}\}`)

// ExtractVariables finds the positional {{n}} slots in a template body.
func ExtractVariables(text string) []Variable {
	matches := variablePattern.FindAllStringSubmatch(text, -1)
	variables := make([]Variable, 0, len(matches))
	for _, match := range matches {
		variables = append(variables, Variable{
			Name:    "var" + match[1],
			Example: "Example " + match[1],
		})
	}
	return variables
}

// NormalizeApproval collapses the provider's assorted status spellings into
// one enumerated approval state, computed once at create/sync time so read
// sites never re-interpret raw strings.
func NormalizeApproval(status string) models.TemplateApprovalState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "active", "true":
		return models.TemplateApproved
	case "pending", "in_review", "in_appeal", "submitted":
		return models.TemplatePending
	case "rejected", "disabled", "paused":
		return models.TemplateRejected
	default:
		return models.TemplateDraft
	}
}

type Service struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewService(db *gorm.DB, log zerolog.Logger) *Service {
	return &Service{db: db, log: log}
}

// ListFilter narrows List results.
type ListFilter struct {
	Status   string
	Approval string
	Category string
}

func (s *Service) List(filter ListFilter) ([]models.Template, error) {
	q := s.db.Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Approval != "" {
		q = q.Where("approval = ?", filter.Approval)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	var templates []models.Template
	if err := q.Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

func (s *Service) Get(id string) (*models.Template, error) {
	var template models.Template
	err := s.db.First(&template, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &template, nil
}

// Create stores a manually authored template. The approval state and the
// variable slots are computed here, not at read time.
func (s *Service) Create(template *models.Template) error {
	if template.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if template.Body == "" {
		return fmt.Errorf("template body is required")
	}
	if template.Type == "" {
		template.Type = "custom"
	}
	if template.Status == "" {
		template.Status = "draft"
	}
	template.Approval = NormalizeApproval(template.Status)
	template.Variables = marshalVariables(ExtractVariables(template.Body))

	var count int64
	if err := s.db.Model(&models.Template{}).Where("name = ?", template.Name).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateName
	}

	return s.db.Create(template).Error
}

func (s *Service) Update(id string, updates map[string]interface{}) (*models.Template, error) {
	template, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if status, ok := updates["status"].(string); ok {
		updates["approval"] = NormalizeApproval(status)
	}
	if body, ok := updates["body"].(string); ok {
		updates["variables"] = marshalVariables(ExtractVariables(body))
	}

	if err := s.db.Model(template).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.Get(id)
}

func (s *Service) Delete(id string) error {
	result := s.db.Delete(&models.Template{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SyncResult summarizes one catalog sync run.
type SyncResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Sync upserts the provider's template catalog into the local store, keyed
// by provider template id: new templates are inserted, existing ones updated
// only when status, name or language drifted.
func (s *Service) Sync(catalog []whatsapp.CatalogTemplate) (*SyncResult, error) {
	result := &SyncResult{}
	now := time.Now()

	for _, remote := range catalog {
		header, body, footer := splitComponents(remote.Components)

		var existing models.Template
		err := s.db.Where("whatsapp_template_id = ?", remote.ID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			template := models.Template{
				Name:               remote.Name,
				Type:               "official",
				Category:           defaultString(remote.Category, "utility"),
				Language:           remote.Language,
				Status:             remote.Status,
				Approval:           NormalizeApproval(remote.Status),
				HeaderType:         strings.ToLower(defaultString(header.Format, "text")),
				HeaderText:         header.Text,
				Body:               body,
				Footer:             footer,
				Variables:          marshalVariables(ExtractVariables(body)),
				WhatsAppTemplateID: remote.ID,
				SyncedAt:           &now,
			}
			if err := s.db.Create(&template).Error; err != nil {
				s.log.Error().Err(err).Str("template", remote.Name).Msg("sync create failed")
				continue
			}
			result.Created++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup template %s: %w", remote.ID, err)
		}

		if existing.Status == remote.Status && existing.Name == remote.Name && existing.Language == remote.Language {
			result.Unchanged++
			continue
		}

		err = s.db.Model(&existing).Updates(map[string]interface{}{
			"name":        remote.Name,
			"category":    defaultString(remote.Category, "utility"),
			"language":    remote.Language,
			"status":      remote.Status,
			"approval":    NormalizeApproval(remote.Status),
			"header_type": strings.ToLower(defaultString(header.Format, "text")),
			"header_text": header.Text,
			"body":        body,
			"footer":      footer,
			"variables":   marshalVariables(ExtractVariables(body)),
			"synced_at":   now,
		}).Error
		if err != nil {
			s.log.Error().Err(err).Str("template", remote.Name).Msg("sync update failed")
			continue
		}
		result.Updated++
	}

	return result, nil
}

func splitComponents(components []whatsapp.CatalogComponent) (header whatsapp.CatalogComponent, body, footer string) {
	for _, component := range components {
		switch strings.ToUpper(component.Type) {
		case "HEADER":
			header = component
		case "BODY":
			body = component.Text
		case "FOOTER":
			footer = component.Text
		}
	}
	return header, body, footer
}

func marshalVariables(variables []Variable) string {
	data, err := json.Marshal(variables)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
