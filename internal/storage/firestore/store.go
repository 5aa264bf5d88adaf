// Package firestore implements the delivery store on Google Cloud Firestore.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

const (
	DeliveriesCollection = "notification_deliveries"
	TokensCollection     = "user_device_tokens"
)

// DeliveryStore implements dispatch.DeliveryStore using Google Cloud Firestore.
// Deliveries are keyed by delivery id, tokens by the sha256 of the token value.
type DeliveryStore struct {
	client *firestore.Client
	logger *slog.Logger
}

func NewDeliveryStore(client *firestore.Client, logger *slog.Logger) *DeliveryStore {
	return &DeliveryStore{
		client: client,
		logger: logger.With("component", "FirestoreDeliveryStore"),
	}
}

// deliveryRecord is the internal DB representation of a delivery document.
type deliveryRecord struct {
	UserID    string         `firestore:"user_id"`
	Channel   string         `firestore:"channel"`
	Status    string         `firestore:"status"`
	Payload   map[string]any `firestore:"payload"`
	Reason    *string        `firestore:"reason"`
	Debug     map[string]any `firestore:"debug"`
	CreatedAt time.Time      `firestore:"created_at"`
}

// DeviceRecord is the DB representation of one device registration.
type DeviceRecord struct {
	Token     string    `firestore:"token"`
	Platform  string    `firestore:"platform"`
	UserID    string    `firestore:"app_user_id"`
	Enabled   bool      `firestore:"enabled"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (s *DeliveryStore) FetchPendingDeliveries(ctx context.Context, limit int) ([]dispatch.Delivery, error) {
	iter := s.client.Collection(DeliveriesCollection).
		Where("channel", "==", dispatch.PushChannel).
		Where("status", "==", string(dispatch.StatusPending)).
		OrderBy("created_at", firestore.Asc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	deliveries := make([]dispatch.Delivery, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: firestore pending query failed: %v", dispatch.ErrStore, err)
		}

		var record deliveryRecord
		if err := doc.DataTo(&record); err != nil {
			// Returned without a payload so the row still reaches a terminal status.
			s.logger.Warn("Undecodable delivery document, payload dropped", "delivery_id", doc.Ref.ID, "err", err)
			userID, _ := doc.Data()["user_id"].(string)
			deliveries = append(deliveries, dispatch.Delivery{
				ID:      doc.Ref.ID,
				UserID:  userID,
				Channel: dispatch.PushChannel,
				Status:  dispatch.StatusPending,
			})
			continue
		}
		deliveries = append(deliveries, dispatch.Delivery{
			ID:        doc.Ref.ID,
			UserID:    record.UserID,
			Payload:   record.Payload,
			Channel:   record.Channel,
			Status:    dispatch.Status(record.Status),
			Reason:    record.Reason,
			CreatedAt: record.CreatedAt,
		})
	}
	return deliveries, nil
}

func (s *DeliveryStore) FetchEnabledTokens(ctx context.Context, userID string) ([]dispatch.DeviceToken, error) {
	iter := s.client.Collection(TokensCollection).
		Where("app_user_id", "==", userID).
		Where("enabled", "==", true).
		Documents(ctx)
	defer iter.Stop()

	tokens := make([]dispatch.DeviceToken, 0)
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: firestore token query failed: %v", dispatch.ErrStore, err)
		}

		var record DeviceRecord
		if err := doc.DataTo(&record); err != nil || record.Token == "" {
			continue
		}
		tokens = append(tokens, dispatch.DeviceToken{
			Token:    record.Token,
			Platform: dispatch.Platform(record.Platform),
			UserID:   record.UserID,
			Enabled:  record.Enabled,
		})
	}
	return tokens, nil
}

func (s *DeliveryStore) PatchDelivery(ctx context.Context, id string, patch dispatch.DeliveryPatch) error {
	updates := make([]firestore.Update, 0, 3)
	if patch.Status != "" {
		updates = append(updates, firestore.Update{Path: "status", Value: string(patch.Status)})
	}
	if patch.Reason != nil {
		updates = append(updates, firestore.Update{Path: "reason", Value: *patch.Reason})
	}
	if patch.Debug != nil {
		debug, err := toMap(patch.Debug)
		if err != nil {
			return fmt.Errorf("%w: encoding debug trace: %v", dispatch.ErrStore, err)
		}
		updates = append(updates, firestore.Update{Path: "debug", Value: debug})
	}
	if len(updates) == 0 {
		return nil
	}

	if _, err := s.client.Collection(DeliveriesCollection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("%w: patching delivery %s: %v", dispatch.ErrStore, id, err)
	}
	return nil
}

// DisableToken flips enabled to false. A token that is already gone is not an error.
func (s *DeliveryStore) DisableToken(ctx context.Context, token string) error {
	_, err := s.deviceRef(token).Update(ctx, []firestore.Update{
		{Path: "enabled", Value: false},
		{Path: "updated_at", Value: firestore.ServerTimestamp},
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: disabling token: %v", dispatch.ErrStore, err)
	}
	return nil
}

// RegisterToken upserts a device registration. Producers and tests use it to seed tokens.
func (s *DeliveryStore) RegisterToken(ctx context.Context, userID, token string, platform dispatch.Platform) error {
	record := DeviceRecord{
		Token:     token,
		Platform:  string(platform),
		UserID:    userID,
		Enabled:   true,
		UpdatedAt: time.Now(),
	}
	if _, err := s.deviceRef(token).Set(ctx, record); err != nil {
		return fmt.Errorf("%w: registering token: %v", dispatch.ErrStore, err)
	}
	return nil
}

// --- Helpers ---

func (s *DeliveryStore) deviceRef(token string) *firestore.DocumentRef {
	// Hash of token as Doc ID prevents duplicates and hot-spotting
	return s.client.Collection(TokensCollection).Doc(hashToken(token))
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}

// toMap stores the trace with its JSON field names so every backend persists the same shape.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
