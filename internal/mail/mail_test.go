package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	netmail "net/mail"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose_Headers(t *testing.T) {
	date := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	raw, err := Compose("developer@missbott.online", Message{
		To:      []string{"client@example.com"},
		ReplyTo: "lead@example.com",
		Subject: "Your project inquiry",
		Body:    "Hi Ada,\n\nThanks for reaching out.",
	}, date)
	require.NoError(t, err)

	msg, err := netmail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "Your project inquiry", msg.Header.Get("Subject"))
	assert.Contains(t, msg.Header.Get("From"), "developer@missbott.online")
	assert.Contains(t, msg.Header.Get("To"), "client@example.com")
	assert.Contains(t, msg.Header.Get("Reply-To"), "lead@example.com")
	assert.Contains(t, msg.Header.Get("Content-Type"), "text/plain")
	assert.NotEmpty(t, msg.Header.Get("Message-Id"))

	body, err := io.ReadAll(msg.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Thanks for reaching out.")
}

func TestCompose_InvalidRecipient(t *testing.T) {
	_, err := Compose("developer@missbott.online", Message{To: []string{"not an address"}}, time.Now())
	assert.Error(t, err)
}

func TestSMTPSender_NotConfigured(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{})
	assert.False(t, s.Configured())

	err := s.Send(context.Background(), Message{To: []string{"a@example.com"}})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSMTPSender_NoRecipients(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "me@example.com"})
	err := s.Send(context.Background(), Message{Subject: "x"})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestPersona_Signature(t *testing.T) {
	p := Persona{
		Name:    "Miss Bott",
		Title:   "Digital Consultant & Solutions Architect",
		Email:   "developer@missbott.online",
		Website: "https://missbott.online",
	}
	sig := p.Signature()

	lines := strings.Split(sig, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Miss Bott", lines[1])
	assert.Equal(t, "Email: developer@missbott.online", lines[3])
	assert.Equal(t, "Website: https://missbott.online", lines[4])
}

func TestMailchimp_DataCenterFromKey(t *testing.T) {
	m := NewMailchimp(MailchimpConfig{APIKey: "abc123-us21", AudienceID: "list1"})
	assert.True(t, m.Configured())
	assert.Equal(t, "https://us21.api.mailchimp.com/3.0", m.cfg.BaseURL)
}

func TestMailchimp_SubscribeUpserts(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "anystring", user)
		assert.Equal(t, "key-us1", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	m := NewMailchimp(MailchimpConfig{APIKey: "key-us1", AudienceID: "aud", BaseURL: srv.URL})
	err := m.Subscribe(context.Background(), "Urist.McVankab@freddiemac.com", "Urist")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/lists/aud/members/05b9d43160b5c68a327efe2a45c8b90c", gotPath)
	assert.Equal(t, "subscribed", gotBody["status_if_new"])
	assert.Equal(t, "Urist", gotBody["merge_fields"].(map[string]any)["FNAME"])
}

func TestMailchimp_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":400,"title":"Invalid Resource","detail":"looks fake"}`))
	}))
	defer srv.Close()

	m := NewMailchimp(MailchimpConfig{APIKey: "key-us1", AudienceID: "aud", BaseURL: srv.URL})
	err := m.Subscribe(context.Background(), "fake@example.com", "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Resource: looks fake")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMailchimp_NotConfigured(t *testing.T) {
	m := NewMailchimp(MailchimpConfig{})
	assert.ErrorIs(t, m.Subscribe(context.Background(), "a@example.com", ""), ErrNotConfigured)
}
