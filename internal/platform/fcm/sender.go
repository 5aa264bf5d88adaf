package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

const (
	DefaultEndpoint = "https://fcm.googleapis.com"
	DefaultTimeout  = 10 * time.Second
	maxErrorBody    = 64 << 10
)

// SenderConfig configures the v1 send endpoint and per-call limits.
type SenderConfig struct {
	Endpoint  string
	ProjectID string
	// Timeout bounds each send call.
	Timeout time.Duration
	// RateLimit is sends per second. Zero disables pacing.
	RateLimit float64
}

// Sender posts one message per call to <endpoint>/v1/projects/<project>/messages:send.
type Sender struct {
	url        string
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *slog.Logger
}

func NewSender(cfg SenderConfig, httpClient *http.Client, logger *slog.Logger) (*Sender, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("fcm sender requires a project id")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Sender{
		url:        fmt.Sprintf("%s/v1/projects/%s/messages:send", strings.TrimRight(cfg.Endpoint, "/"), cfg.ProjectID),
		timeout:    cfg.Timeout,
		limiter:    limiter,
		httpClient: httpClient,
		logger:     logger.With("component", "FCMSender"),
	}, nil
}

type sendRequest struct {
	Message *dispatch.Message `json:"message"`
}

// Send never returns an error. Transport failures and gateway rejections are reported
// in the result so the caller can keep going with the next token.
func (s *Sender) Send(ctx context.Context, accessToken string, msg *dispatch.Message) dispatch.SendResult {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return transportFailure(err)
		}
	}

	raw, err := json.Marshal(sendRequest{Message: msg})
	if err != nil {
		return transportFailure(fmt.Errorf("encoding message: %w", err))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return transportFailure(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return dispatch.SendResult{OK: true, HTTPStatus: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := string(body)
	if err != nil && text == "" {
		text = err.Error()
	}
	unregistered := IsUnregistered(text)
	s.logger.Debug("Gateway rejected message", "status", resp.StatusCode, "unregistered", unregistered)

	return dispatch.SendResult{
		HTTPStatus:   resp.StatusCode,
		ErrorText:    text,
		Unregistered: unregistered,
		Err:          fmt.Errorf("%w: status %d", dispatch.ErrGateway, resp.StatusCode),
	}
}

// IsUnregistered reports whether a gateway error body says the token is permanently invalid.
func IsUnregistered(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "unregistered") ||
		strings.Contains(lower, "registration-token-not-registered")
}

func transportFailure(err error) dispatch.SendResult {
	return dispatch.SendResult{
		ErrorText: err.Error(),
		Err:       fmt.Errorf("%w: %v", dispatch.ErrTransport, err),
	}
}
