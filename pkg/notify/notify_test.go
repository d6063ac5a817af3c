package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(quietLogger())
	account := uuid.New()

	res, err := n.SendInvitation(context.Background(), Invitation{Email: "a@b.co", AccountID: &account})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.NotificationCreated)

	res, err = n.SendInvitation(context.Background(), Invitation{Email: "a@b.co"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.NotificationCreated)
}

func TestHTTPNotifier(t *testing.T) {
	account := uuid.New()
	inv := Invitation{ProjectID: uuid.New(), MemberID: uuid.New(), AccountID: &account, Email: "pat@example.com"}

	t.Run("delivers signed payload", func(t *testing.T) {
		var got Invitation
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/invitations", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			body, _ := io.ReadAll(r.Body)
			assert.True(t, VerifySignature(body, r.Header.Get("X-Trellis-Signature"), "s3cret"))
			assert.NoError(t, json.Unmarshal(body, &got))
			_, _ = w.Write([]byte(`{"success":true,"notification_created":true}`))
		}))
		defer server.Close()

		n := NewHTTPNotifier(HTTPConfig{BaseURL: server.URL + "/", Secret: "s3cret"}, quietLogger())
		res, err := n.SendInvitation(context.Background(), inv)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.True(t, res.NotificationCreated)
		assert.Equal(t, inv.MemberID, got.MemberID)
		assert.Equal(t, "pat@example.com", got.Email)
	})

	t.Run("no account never reports a notification", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":true,"notification_created":true}`))
		}))
		defer server.Close()

		n := NewHTTPNotifier(HTTPConfig{BaseURL: server.URL}, quietLogger())
		res, err := n.SendInvitation(context.Background(), Invitation{MemberID: uuid.New(), Email: "x@y.z"})
		require.NoError(t, err)
		assert.False(t, res.NotificationCreated)
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "mailbox full", http.StatusServiceUnavailable)
		}))
		defer server.Close()

		n := NewHTTPNotifier(HTTPConfig{BaseURL: server.URL}, quietLogger())
		_, err := n.SendInvitation(context.Background(), inv)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
		assert.Contains(t, err.Error(), "mailbox full")
	})

	t.Run("unreachable service", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		n := NewHTTPNotifier(HTTPConfig{BaseURL: url, Timeout: time.Second}, quietLogger())
		_, err := n.SendInvitation(context.Background(), inv)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to send invitation")
	})
}

func TestSign(t *testing.T) {
	sig := Sign([]byte("payload"), "k")
	assert.True(t, VerifySignature([]byte("payload"), sig, "k"))
	assert.False(t, VerifySignature([]byte("payload"), sig, "other"))
	assert.False(t, VerifySignature([]byte("tampered"), sig, "k"))
}
