// Package postgres implements the delivery store with direct SQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

// Querier is the subset of *pgxpool.Pool the store uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	pendingQuery = `
		SELECT id::text, user_id::text, payload
		FROM notification_deliveries
		WHERE channel = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT $3`

	tokensQuery = `
		SELECT token, platform
		FROM user_device_tokens
		WHERE app_user_id = $1::uuid AND enabled = TRUE`

	disableTokenQuery = `UPDATE user_device_tokens SET enabled = FALSE WHERE token = $1`
)

// DeliveryStore implements dispatch.DeliveryStore against notification_deliveries and
// user_device_tokens. payload and debug are jsonb columns.
type DeliveryStore struct {
	db     Querier
	logger *slog.Logger
}

func NewDeliveryStore(db Querier, logger *slog.Logger) *DeliveryStore {
	return &DeliveryStore{
		db:     db,
		logger: logger.With("component", "PostgresDeliveryStore"),
	}
}

func (s *DeliveryStore) FetchPendingDeliveries(ctx context.Context, limit int) ([]dispatch.Delivery, error) {
	rows, err := s.db.Query(ctx, pendingQuery, dispatch.PushChannel, string(dispatch.StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: pending query failed: %v", dispatch.ErrStore, err)
	}
	defer rows.Close()

	deliveries := make([]dispatch.Delivery, 0)
	for rows.Next() {
		var (
			d       dispatch.Delivery
			payload []byte
		)
		if err := rows.Scan(&d.ID, &d.UserID, &payload); err != nil {
			return nil, fmt.Errorf("%w: scanning delivery: %v", dispatch.ErrStore, err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &d.Payload); err != nil {
				s.logger.Warn("Delivery payload is not a JSON object", "delivery_id", d.ID, "err", err)
			}
		}
		d.Channel = dispatch.PushChannel
		d.Status = dispatch.StatusPending
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating deliveries: %v", dispatch.ErrStore, err)
	}
	return deliveries, nil
}

func (s *DeliveryStore) FetchEnabledTokens(ctx context.Context, userID string) ([]dispatch.DeviceToken, error) {
	rows, err := s.db.Query(ctx, tokensQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: token query failed: %v", dispatch.ErrStore, err)
	}
	defer rows.Close()

	tokens := make([]dispatch.DeviceToken, 0)
	for rows.Next() {
		var token, platform string
		if err := rows.Scan(&token, &platform); err != nil {
			return nil, fmt.Errorf("%w: scanning token: %v", dispatch.ErrStore, err)
		}
		tokens = append(tokens, dispatch.DeviceToken{
			Token:    token,
			Platform: dispatch.Platform(platform),
			UserID:   userID,
			Enabled:  true,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating tokens: %v", dispatch.ErrStore, err)
	}
	return tokens, nil
}

func (s *DeliveryStore) PatchDelivery(ctx context.Context, id string, patch dispatch.DeliveryPatch) error {
	sql, args, err := buildPatch(id, patch)
	if err != nil {
		return fmt.Errorf("%w: %v", dispatch.ErrStore, err)
	}
	if sql == "" {
		return nil
	}

	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%w: patching delivery %s: %v", dispatch.ErrStore, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: delivery %s not found", dispatch.ErrStore, id)
	}
	return nil
}

func (s *DeliveryStore) DisableToken(ctx context.Context, token string) error {
	if _, err := s.db.Exec(ctx, disableTokenQuery, token); err != nil {
		return fmt.Errorf("%w: disabling token: %v", dispatch.ErrStore, err)
	}
	return nil
}

// buildPatch renders an UPDATE touching only the fields present in the patch.
// An empty patch yields an empty statement.
func buildPatch(id string, patch dispatch.DeliveryPatch) (string, []any, error) {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)

	add := func(column string, value any, cast string) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args))+cast)
	}

	if patch.Status != "" {
		add("status", string(patch.Status), "")
	}
	if patch.Reason != nil {
		add("reason", *patch.Reason, "")
	}
	if patch.Debug != nil {
		raw, err := json.Marshal(patch.Debug)
		if err != nil {
			return "", nil, fmt.Errorf("encoding debug trace: %w", err)
		}
		add("debug", string(raw), "::jsonb")
	}
	if len(sets) == 0 {
		return "", nil, nil
	}

	args = append(args, id)
	sql := "UPDATE notification_deliveries SET " + strings.Join(sets, ", ") +
		" WHERE id = $" + strconv.Itoa(len(args)) + "::uuid"
	return sql, args, nil
}
