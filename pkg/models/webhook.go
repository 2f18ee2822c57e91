// Package models holds the wire types shared with the WhatsApp Cloud API.
package models

// WebhookPayload is the incoming notification envelope from WhatsApp.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Value WebhookValue `json:"value"`
	Field string       `json:"field"`
}

type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts,omitempty"`
	Messages         []WebhookMessage `json:"messages,omitempty"`
	Statuses         []WebhookStatus  `json:"statuses,omitempty"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// WebhookContact carries the sender's profile as WhatsApp knows it.
type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type WebhookMessage struct {
	From      string        `json:"from"`
	ID        string        `json:"id"`
	Timestamp string        `json:"timestamp"` // unix seconds as a string
	Type      string        `json:"type"`
	Text      *TextMessage  `json:"text,omitempty"`
	Image     *MediaMessage `json:"image,omitempty"`
	Video     *MediaMessage `json:"video,omitempty"`
	Audio     *MediaMessage `json:"audio,omitempty"`
	Document  *MediaMessage `json:"document,omitempty"`
}

type TextMessage struct {
	Body string `json:"body"`
}

// MediaMessage is a media attachment reference inside a webhook message.
type MediaMessage struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// WebhookStatus is one delivery receipt for an outbound message.
type WebhookStatus struct {
	ID          string `json:"id"` // provider message id of the outbound message
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}
