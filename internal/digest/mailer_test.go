package digest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewResendMailerRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewResendMailer(ResendConfig{APIKey: " "})
	require.ErrorIs(t, err, ErrMailerNotConfigured)
}

func TestResendMailerSend(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/emails", r.URL.Path)
		require.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"49a3999c-0ce1-4ea6-ab68-afcd6dc2e794"}`))
	}))
	defer srv.Close()

	mailer, err := NewResendMailer(ResendConfig{APIKey: "re_test", BaseURL: srv.URL})
	require.NoError(t, err)

	id, err := mailer.Send(context.Background(), Email{
		From:    "Watchtower <onboarding@resend.dev>",
		To:      "team@example.com",
		Subject: "Weekly",
		HTML:    "<p>hi</p>",
	})
	require.NoError(t, err)
	require.Equal(t, "49a3999c-0ce1-4ea6-ab68-afcd6dc2e794", id)
	require.Equal(t, "Watchtower <onboarding@resend.dev>", got["from"])
	require.Equal(t, []any{"team@example.com"}, got["to"])
	require.Equal(t, "Weekly", got["subject"])
	require.Equal(t, "<p>hi</p>", got["html"])
}

func TestResendMailerSendRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"statusCode":422,"name":"validation_error","message":"Invalid from field"}`))
	}))
	defer srv.Close()

	mailer, err := NewResendMailer(ResendConfig{APIKey: "re_test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = mailer.Send(context.Background(), Email{From: "bad", To: "team@example.com", Subject: "s", HTML: "h"})
	require.Error(t, err)
}

func TestResendMailerSendRequiresRecipient(t *testing.T) {
	t.Parallel()

	mailer, err := NewResendMailer(ResendConfig{APIKey: "re_test"})
	require.NoError(t, err)
	_, err = mailer.Send(context.Background(), Email{})
	require.ErrorIs(t, err, ErrNoRecipient)
}
