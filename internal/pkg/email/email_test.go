package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendGridClient_Send(t *testing.T) {
	var got sendGridRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewSendGridClient(SendGridConfig{
		APIKey:    "sg-key",
		FromEmail: "noreply@get-eficia.fr",
		FromName:  "Eficia",
		BaseURL:   srv.URL,
	})

	err := client.Send(context.Background(), &EmailMessage{
		To:          "client@example.com",
		Subject:     "Hello",
		HTMLContent: "<p>hi</p>",
		TextContent: "hi",
	})
	require.NoError(t, err)

	assert.Equal(t, "noreply@get-eficia.fr", got.From.Email)
	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "client@example.com", got.Personalizations[0].To[0].Email)
	require.Len(t, got.Content, 2)
	assert.Equal(t, "text/plain", got.Content[0].Type)
}

func TestSendGridClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"message":"bad from"}]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewSendGridClient(SendGridConfig{APIKey: "k", BaseURL: srv.URL})
	err := client.Send(context.Background(), &EmailMessage{To: "a@b.c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	unconfigured := NewSendGridClient(SendGridConfig{})
	assert.ErrorIs(t, unconfigured.Send(context.Background(), &EmailMessage{To: "a@b.c"}), ErrNotConfigured)
}

type captureSender struct {
	sent []*EmailMessage
}

func (c *captureSender) Send(_ context.Context, msg *EmailMessage) error {
	c.sent = append(c.sent, msg)
	return nil
}

func TestService_SendSync(t *testing.T) {
	sender := &captureSender{}
	svc, err := NewService(sender)
	require.NoError(t, err)

	err = svc.SendSync(context.Background(), "client@example.com", "Jean", TemplateJobCompleted, "Your enriched file is ready", map[string]any{
		"UserName":     "Jean <script>",
		"Filename":     "leads.csv",
		"NumbersFound": 120,
		"CreditsUsed":  100,
		"DashboardURL": "https://app.example.com/app",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	html := sender.sent[0].HTMLContent
	assert.Contains(t, html, "<!DOCTYPE html>")
	assert.Contains(t, html, "leads.csv")
	assert.Contains(t, html, "Jean &lt;script&gt;")
	assert.Contains(t, html, "https://app.example.com/app")

	assert.Error(t, svc.SendSync(context.Background(), "x@y.z", "", "missing", "s", nil))
}
