// Package postgrest implements the delivery store against a PostgREST (Supabase) REST endpoint.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

const (
	deliveriesPath = "/rest/v1/notification_deliveries"
	tokensPath     = "/rest/v1/user_device_tokens"
	maxBodySize    = 1 << 20
)

// Config locates the REST endpoint and carries the service credential.
type Config struct {
	BaseURL    string
	ServiceKey string
}

// DeliveryStore implements dispatch.DeliveryStore over the PostgREST filter syntax.
type DeliveryStore struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewDeliveryStore(cfg Config, httpClient *http.Client, logger *slog.Logger) (*DeliveryStore, error) {
	if cfg.BaseURL == "" || cfg.ServiceKey == "" {
		return nil, fmt.Errorf("postgrest store requires a base url and a service key")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &DeliveryStore{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		serviceKey: cfg.ServiceKey,
		httpClient: httpClient,
		logger:     logger.With("component", "PostgrestDeliveryStore"),
	}, nil
}

type deliveryRow struct {
	ID      string         `json:"id"`
	UserID  string         `json:"user_id"`
	Payload map[string]any `json:"payload"`
}

type tokenRow struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (s *DeliveryStore) FetchPendingDeliveries(ctx context.Context, limit int) ([]dispatch.Delivery, error) {
	q := url.Values{}
	q.Set("select", "id,user_id,payload")
	q.Set("channel", "eq."+dispatch.PushChannel)
	q.Set("status", "eq."+string(dispatch.StatusPending))
	q.Set("order", "created_at.asc")
	q.Set("limit", strconv.Itoa(limit))

	var rows []deliveryRow
	if err := s.do(ctx, http.MethodGet, deliveriesPath, q, nil, &rows); err != nil {
		return nil, fmt.Errorf("fetching pending deliveries: %w", err)
	}

	deliveries := make([]dispatch.Delivery, 0, len(rows))
	for _, r := range rows {
		deliveries = append(deliveries, dispatch.Delivery{
			ID:      r.ID,
			UserID:  r.UserID,
			Payload: r.Payload,
			Channel: dispatch.PushChannel,
			Status:  dispatch.StatusPending,
		})
	}
	s.logger.Debug("Fetched pending deliveries", "count", len(deliveries), "limit", limit)
	return deliveries, nil
}

func (s *DeliveryStore) FetchEnabledTokens(ctx context.Context, userID string) ([]dispatch.DeviceToken, error) {
	q := url.Values{}
	q.Set("select", "token,platform")
	q.Set("app_user_id", "eq."+userID)
	q.Set("enabled", "eq.true")

	var rows []tokenRow
	if err := s.do(ctx, http.MethodGet, tokensPath, q, nil, &rows); err != nil {
		return nil, fmt.Errorf("fetching tokens for %s: %w", userID, err)
	}

	tokens := make([]dispatch.DeviceToken, 0, len(rows))
	for _, r := range rows {
		tokens = append(tokens, dispatch.DeviceToken{
			Token:    r.Token,
			Platform: dispatch.Platform(r.Platform),
			UserID:   userID,
			Enabled:  true,
		})
	}
	return tokens, nil
}

func (s *DeliveryStore) PatchDelivery(ctx context.Context, id string, patch dispatch.DeliveryPatch) error {
	body := make(map[string]any, 3)
	if patch.Status != "" {
		body["status"] = patch.Status
	}
	if patch.Reason != nil {
		body["reason"] = *patch.Reason
	}
	if patch.Debug != nil {
		body["debug"] = patch.Debug
	}
	if len(body) == 0 {
		return nil
	}

	q := url.Values{}
	q.Set("id", "eq."+id)
	if err := s.do(ctx, http.MethodPatch, deliveriesPath, q, body, nil); err != nil {
		return fmt.Errorf("patching delivery %s: %w", id, err)
	}
	return nil
}

// DisableToken patches by exact token. Matching zero rows is still a success.
func (s *DeliveryStore) DisableToken(ctx context.Context, token string) error {
	q := url.Values{}
	q.Set("token", "eq."+token)
	if err := s.do(ctx, http.MethodPatch, tokensPath, q, map[string]any{"enabled": false}, nil); err != nil {
		return fmt.Errorf("disabling token: %w", err)
	}
	return nil
}

func (s *DeliveryStore) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encoding request: %v", dispatch.ErrStore, err)
		}
		body = bytes.NewReader(raw)
	}

	endpoint := s.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", dispatch.ErrStore, err)
	}
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", dispatch.ErrStore, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", dispatch.ErrStore, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s returned %d: %s", dispatch.ErrStore, method, path, resp.StatusCode, string(raw))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", dispatch.ErrStore, err)
	}
	return nil
}
