package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

const (
	// DefaultBatchSize is also the most deliveries one invocation may fetch.
	DefaultBatchSize    = 50
	DefaultReasonMaxLen = 1000
	ErrorShortLen       = 300

	ReasonNoTokens          = "no device tokens"
	ReasonTokenLookupFailed = "token lookup failed"
	ReasonGatewaySendFailed = "gateway send failed"

	StageTokens = "tokens"

	patchTimeout = 5 * time.Second
)

// Config holds the orchestrator's batch limits.
type Config struct {
	BatchSize    int
	ReasonMaxLen int
}

// Summary counts the terminal outcomes of one invocation.
type Summary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// invalidator is implemented by token sources that cache.
type invalidator interface {
	Invalidate(ctx context.Context) error
}

// Processor drains one batch of pending deliveries per Run.
type Processor struct {
	cfg     Config
	builder Builder
	store   dispatch.DeliveryStore
	tokens  dispatch.TokenSource
	sender  dispatch.Sender
	now     func() time.Time
	logger  *slog.Logger
}

func NewProcessor(
	cfg Config,
	builder Builder,
	store dispatch.DeliveryStore,
	tokens dispatch.TokenSource,
	sender dispatch.Sender,
	logger *slog.Logger,
) *Processor {
	if cfg.BatchSize <= 0 || cfg.BatchSize > DefaultBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ReasonMaxLen <= 0 {
		cfg.ReasonMaxLen = DefaultReasonMaxLen
	}
	return &Processor{
		cfg:     cfg,
		builder: builder,
		store:   store,
		tokens:  tokens,
		sender:  sender,
		now:     time.Now,
		logger:  logger.With("component", "Processor"),
	}
}

// outcome is the terminal state decided for one delivery.
type outcome struct {
	status       dispatch.Status
	reason       *string
	trace        *dispatch.DebugTrace
	unauthorized bool
}

// Run processes up to BatchSize pending deliveries in fetch order. Only the pending
// fetch and the access-token exchange abort the invocation; after that every fetched
// delivery is patched to a terminal status.
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	log := p.logger.With("run_id", uuid.NewString())
	var summary Summary

	deliveries, err := p.store.FetchPendingDeliveries(ctx, p.cfg.BatchSize)
	if err != nil {
		log.Error("Failed to fetch pending deliveries", "err", err)
		return summary, err
	}
	if len(deliveries) == 0 {
		log.Debug("No pending deliveries")
		return summary, nil
	}

	accessToken, err := p.tokens.AccessToken(ctx)
	if err != nil {
		log.Error("Failed to obtain gateway access token", "err", err)
		return summary, fmt.Errorf("obtaining access token: %w", err)
	}

	unauthorized := false
	for _, d := range deliveries {
		dlog := log.With("delivery_id", d.ID, "user_id", d.UserID)
		out := p.process(ctx, dlog, d, accessToken.Value)
		unauthorized = unauthorized || out.unauthorized

		p.patch(ctx, dlog, d.ID, out)

		summary.Processed++
		switch out.status {
		case dispatch.StatusSent:
			summary.Sent++
		case dispatch.StatusSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}

	// A rejected bearer must not be reused by the next invocation.
	if inv, ok := p.tokens.(invalidator); ok && unauthorized {
		if err := inv.Invalidate(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to invalidate cached access token", "err", err)
		}
	}

	log.Info("Invocation complete",
		"processed", summary.Processed,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

func (p *Processor) process(ctx context.Context, log *slog.Logger, d dispatch.Delivery, accessToken string) outcome {
	trace := &dispatch.DebugTrace{
		At:         p.now().UTC(),
		DeliveryID: d.ID,
		UserID:     d.UserID,
		Attempts:   []dispatch.Attempt{},
	}

	tokens, err := p.store.FetchEnabledTokens(ctx, d.UserID)
	if err != nil {
		log.Warn("Token lookup failed", "err", err)
		reason := truncate(ReasonTokenLookupFailed+": "+err.Error(), p.cfg.ReasonMaxLen)
		trace.Stage = StageTokens
		trace.Error = err.Error()
		return outcome{status: dispatch.StatusFailed, reason: &reason, trace: trace}
	}
	if len(tokens) == 0 {
		log.Info("No enabled device tokens; skipping delivery")
		reason := ReasonNoTokens
		trace.Stage = StageTokens
		trace.Error = dispatch.ErrNoTokens.Error()
		return outcome{status: dispatch.StatusSkipped, reason: &reason, trace: trace}
	}

	n := Classify(d.Payload)
	classification := ClassificationOf(n)
	trace.Classification = &classification

	var (
		anyOK        bool
		lastError    string
		unauthorized bool
	)
	for _, t := range tokens {
		msg := p.builder.Build(n, t)
		res := p.sender.Send(ctx, accessToken, msg)

		attempt := dispatch.Attempt{
			Platform:            string(t.Platform),
			IncludeNotification: classification.IncludeNotification,
			OK:                  res.OK,
		}
		if res.HTTPStatus != 0 {
			status := res.HTTPStatus
			attempt.HTTPStatus = &status
		}

		if res.OK {
			anyOK = true
		} else {
			lastError = res.ErrorText
			short := clip(res.ErrorText, ErrorShortLen)
			attempt.ErrorShort = &short
			unauthorized = unauthorized || res.HTTPStatus == http.StatusUnauthorized

			log.Warn("Gateway send failed",
				"platform", t.Platform,
				"status", res.HTTPStatus,
				"unregistered", res.Unregistered,
				"transport", errors.Is(res.Err, dispatch.ErrTransport),
			)

			if res.Unregistered {
				if err := p.store.DisableToken(ctx, t.Token); err != nil {
					log.Warn("Failed to disable unregistered token", "err", err)
				} else {
					log.Info("Disabled unregistered device token", "platform", t.Platform)
				}
			}
		}
		trace.Attempts = append(trace.Attempts, attempt)
	}

	if anyOK {
		return outcome{status: dispatch.StatusSent, trace: trace, unauthorized: unauthorized}
	}

	if lastError == "" {
		lastError = ReasonGatewaySendFailed
	}
	reason := truncate(lastError, p.cfg.ReasonMaxLen)
	return outcome{status: dispatch.StatusFailed, reason: &reason, trace: trace, unauthorized: unauthorized}
}

// patch writes the terminal state even when the invocation context is already done.
func (p *Processor) patch(ctx context.Context, log *slog.Logger, id string, out outcome) {
	patchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), patchTimeout)
	defer cancel()

	err := p.store.PatchDelivery(patchCtx, id, dispatch.DeliveryPatch{
		Status: out.status,
		Reason: out.reason,
		Debug:  out.trace,
	})
	if err != nil {
		log.Error("Failed to record delivery outcome", "status", out.status, "err", err)
		return
	}
	log.Info("Delivery finished", "status", out.status, "attempts", len(out.trace.Attempts))
}

// truncate bounds s to maxLen runes, the last of which is an ellipsis when it cuts.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return clip(s, maxLen-1)
}

// clip keeps the first keep runes and marks the cut with an ellipsis.
func clip(s string, keep int) string {
	if utf8.RuneCountInString(s) <= keep {
		return s
	}
	return string([]rune(s)[:keep]) + "…"
}
