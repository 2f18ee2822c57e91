package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"whatsapp-crm/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+15550000001", "+15550000001"},
		{"15550000001", "+15550000001"},
		{"(555) 000-0001", "+5550000001"},
		{"+1 555 000 0001", "+15550000001"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePhone(tt.in), "input %q", tt.in)
	}
}

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	cfg := &config.Config{
		WhatsAppToken:             "test-token",
		PhoneNumberID:             "123456",
		WhatsAppBusinessAccountID: "waba-1",
		GraphAPIURL:               server.URL,
	}
	return NewClient(cfg), server
}

func TestSendText(t *testing.T) {
	var captured GenericMessage
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/123456/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "wamid.test.1"}},
		})
	})
	defer server.Close()

	result, err := client.SendText(context.Background(), "(555) 000-0001", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.test.1", result.MessageID)

	assert.Equal(t, "whatsapp", captured.MessagingProduct)
	assert.Equal(t, "+5550000001", captured.To)
	assert.Equal(t, "text", captured.Type)
	require.NotNil(t, captured.Text)
	assert.Equal(t, "hello", captured.Text.Body)
}

func TestSendTemplateWithVariables(t *testing.T) {
	var captured GenericMessage
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "wamid.test.2"}},
		})
	})
	defer server.Close()

	_, err := client.SendTemplate(context.Background(), "+15550000001", "order_update", "en_US", []string{"A-100", "tomorrow"})
	require.NoError(t, err)

	require.NotNil(t, captured.Template)
	assert.Equal(t, "order_update", captured.Template.Name)
	assert.Equal(t, "en_US", captured.Template.Language.Code)
	require.Len(t, captured.Template.Components, 1)
	params := captured.Template.Components[0].Parameters
	require.Len(t, params, 2)
	assert.Equal(t, "A-100", params[0].Text)
}

func TestSendTemplateWithoutVariables(t *testing.T) {
	var captured GenericMessage
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]string{{"id": "wamid.test.3"}},
		})
	})
	defer server.Close()

	_, err := client.SendTemplate(context.Background(), "+15550000001", "plain", "en", nil)
	require.NoError(t, err)
	assert.Empty(t, captured.Template.Components)
}

func TestSendTextAPIError(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message": "Recipient phone number not in allowed list",
				"type":    "OAuthException",
				"code":    131030,
			},
		})
	})
	defer server.Close()

	_, err := client.SendText(context.Background(), "+15550000001", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "131030")
	assert.Contains(t, err.Error(), "not in allowed list")
}

func TestGetTemplates(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/waba-1/message_templates", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": "tmpl-1", "name": "order_update", "status": "APPROVED", "language": "en_US"},
			},
		})
	})
	defer server.Close()

	templates, err := client.GetTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "order_update", templates[0].Name)
	assert.Equal(t, "APPROVED", templates[0].Status)
}

func TestGetTemplatesRequiresWABA(t *testing.T) {
	client := NewClient(&config.Config{GraphAPIURL: "http://unused"})
	_, err := client.GetTemplates(context.Background())
	assert.Error(t, err)
}
