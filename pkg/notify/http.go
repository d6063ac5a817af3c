package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPConfig configures the notification service client
type HTTPConfig struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
}

// HTTPNotifier posts invitations to the notification service
type HTTPNotifier struct {
	endpoint string
	secret   string
	client   *http.Client
	logger   *logrus.Logger
}

// NewHTTPNotifier creates a notifier whose requests are traced with otelhttp
func NewHTTPNotifier(cfg HTTPConfig, logger *logrus.Logger) *HTTPNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNotifier{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/invitations",
		secret:   cfg.Secret,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// SendInvitation implements Notifier
func (n *HTTPNotifier) SendInvitation(ctx context.Context, inv Invitation) (Result, error) {
	payload, err := json.Marshal(inv)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal invitation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trellis-Member", inv.MemberID.String())
	if n.secret != "" {
		req.Header.Set("X-Trellis-Signature", Sign(payload, n.secret))
	}

	start := time.Now()
	resp, err := n.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to send invitation: %w", err)
	}
	defer resp.Body.Close()

	log := n.logger.WithFields(logrus.Fields{
		"member_id": inv.MemberID,
		"status":    resp.StatusCode,
		"duration":  time.Since(start),
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Warn("notification service rejected invitation")
		return Result{}, fmt.Errorf("notification service returned non-2xx status: %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("failed to decode notification response: %w", err)
	}
	if inv.AccountID == nil {
		result.NotificationCreated = false
	}

	log.WithField("notification_created", result.NotificationCreated).Info("invitation delivered")
	return result, nil
}

// Sign returns the HMAC-SHA256 signature sent with each request
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign. It is exported for
// the receiving notification service, which checks the X-Trellis-Signature
// header against its copy of the shared secret before trusting a delivery.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
