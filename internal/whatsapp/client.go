package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"whatsapp-crm/internal/config"
)

// Client talks to the Meta Graph API messages endpoint. Every request carries
// a context and the underlying http.Client enforces a hard timeout so a
// hanging provider call cannot stall the sequential send loop.
type Client struct {
	cfg  *config.Config
	http *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// SendResult is the uniform outcome of a successful provider send.
type SendResult struct {
	MessageID string
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *TextObj     `json:"text,omitempty"`
	Image            *MediaObj    `json:"image,omitempty"`
	Video            *MediaObj    `json:"video,omitempty"`
	Audio            *MediaObj    `json:"audio,omitempty"`
	Document         *MediaObj    `json:"document,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type MediaObj struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	Parameters []ParameterObj `json:"parameters"`
}

type ParameterObj struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

var nonPhoneChars = regexp.MustCompile(`[^\d+]`)

// NormalizePhone converts a phone number to E.164: digits only with a
// leading +.
func NormalizePhone(phone string) string {
	normalized := nonPhoneChars.ReplaceAllString(phone, "")
	if len(normalized) > 0 && normalized[0] != '+' {
		normalized = "+" + normalized
	}
	return normalized
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, method, url string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.WhatsAppToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return respBody, fmt.Errorf("whatsapp API error %d: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return respBody, fmt.Errorf("whatsapp API error: %s - %s", resp.Status, string(respBody))
	}

	return respBody, nil
}

func (c *Client) sendMessage(ctx context.Context, msg GenericMessage) (*SendResult, error) {
	url := fmt.Sprintf("%s/%s/messages", c.cfg.GraphAPIURL, c.cfg.PhoneNumberID)
	respBody, err := c.sendRequest(ctx, http.MethodPost, url, msg)
	if err != nil {
		return nil, err
	}

	var resp sendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode send response: %w", err)
	}
	if len(resp.Messages) == 0 {
		return nil, fmt.Errorf("send response contained no message id")
	}
	return &SendResult{MessageID: resp.Messages[0].ID}, nil
}

// --- Messaging Methods ---

func (c *Client) SendText(ctx context.Context, to, body string) (*SendResult, error) {
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		To:               NormalizePhone(to),
		Type:             "text",
		Text: &TextObj{
			Body: body,
		},
	}
	return c.sendMessage(ctx, msg)
}

func (c *Client) SendTemplate(ctx context.Context, to, templateName, languageCode string, variables []string) (*SendResult, error) {
	var components []ComponentObj
	if len(variables) > 0 {
		params := make([]ParameterObj, 0, len(variables))
		for _, v := range variables {
			params = append(params, ParameterObj{Type: "text", Text: v})
		}
		components = append(components, ComponentObj{Type: "body", Parameters: params})
	}

	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		To:               NormalizePhone(to),
		Type:             "template",
		Template: &TemplateObj{
			Name: templateName,
			Language: LanguageObj{
				Code: languageCode,
			},
			Components: components,
		},
	}
	return c.sendMessage(ctx, msg)
}

func (c *Client) SendMedia(ctx context.Context, to, mediaType, link, caption string) (*SendResult, error) {
	media := &MediaObj{Link: link, Caption: caption}
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		To:               NormalizePhone(to),
		Type:             mediaType,
	}
	switch mediaType {
	case "image":
		msg.Image = media
	case "video":
		msg.Video = media
	case "audio":
		msg.Audio = media
	case "document":
		msg.Document = media
	default:
		return nil, fmt.Errorf("unsupported media type %q", mediaType)
	}
	return c.sendMessage(ctx, msg)
}

// --- Template Catalog ---

// CatalogTemplate is one template as reported by the provider's catalog.
type CatalogTemplate struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Language   string             `json:"language"`
	Category   string             `json:"category"`
	Status     string             `json:"status"`
	Components []CatalogComponent `json:"components"`
}

type CatalogComponent struct {
	Type   string `json:"type"` // HEADER, BODY, FOOTER, BUTTONS
	Format string `json:"format,omitempty"`
	Text   string `json:"text,omitempty"`
}

// GetTemplates fetches the business account's template catalog.
func (c *Client) GetTemplates(ctx context.Context) ([]CatalogTemplate, error) {
	if c.cfg.WhatsAppBusinessAccountID == "" {
		return nil, fmt.Errorf("WABA_ID is not configured")
	}

	url := fmt.Sprintf("%s/%s/message_templates", c.cfg.GraphAPIURL, c.cfg.WhatsAppBusinessAccountID)
	respBody, err := c.sendRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []CatalogTemplate `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode template catalog: %w", err)
	}
	return resp.Data, nil
}
