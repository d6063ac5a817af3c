// Package accounts reads platform account profiles from the account
// service. Team sync uses them to create accessors for accounts the
// project owner has never invited.
package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/members"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config configures the account service client
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

type profileResponse struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Company string `json:"company"`
}

// HTTPDirectory implements members.AccountDirectory over HTTP. Profiles
// are cached briefly since a sync asks for many accounts at once.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
	cache   *expirable.LRU[uuid.UUID, members.AccountProfile]
	logger  *logrus.Logger
}

// NewHTTPDirectory creates a directory whose requests are traced with otelhttp
func NewHTTPDirectory(cfg Config, logger *logrus.Logger) *HTTPDirectory {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL < 0 {
		cfg.CacheTTL = 0
	}
	return &HTTPDirectory{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cache:  expirable.NewLRU[uuid.UUID, members.AccountProfile](cfg.CacheSize, nil, cfg.CacheTTL),
		logger: logger,
	}
}

// Profile returns the profile of accountID
func (d *HTTPDirectory) Profile(ctx context.Context, accountID uuid.UUID) (members.AccountProfile, error) {
	const op = "accounts.profile"

	if p, ok := d.cache.Get(accountID); ok {
		return p, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/accounts/"+accountID.String(), nil)
	if err != nil {
		return members.AccountProfile{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return members.AccountProfile{}, apperr.Transport(op, "account service unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return members.AccountProfile{}, apperr.NotFound(op, "account %s not found", accountID)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		d.logger.WithFields(logrus.Fields{
			"account_id": accountID,
			"status":     resp.StatusCode,
		}).Warn("account service rejected profile lookup")
		return members.AccountProfile{}, apperr.Transport(op, "account service error",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var body profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return members.AccountProfile{}, apperr.Transport(op, "invalid account service response", err)
	}

	profile := members.AccountProfile{
		Email:   strings.ToLower(strings.TrimSpace(body.Email)),
		Name:    body.Name,
		Company: body.Company,
	}
	d.cache.Add(accountID, profile)
	return profile, nil
}
