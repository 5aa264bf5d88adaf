// Package api exposes the HTTP trigger for the delivery worker.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-worker/internal/pipeline"
	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
)

// Invoker runs one worker invocation.
type Invoker interface {
	Invoke(ctx context.Context) (pipeline.Summary, error)
}

type TriggerAPI struct {
	Invoker Invoker
	Logger  *slog.Logger
}

func NewTriggerAPI(invoker Invoker, logger *slog.Logger) *TriggerAPI {
	return &TriggerAPI{
		Invoker: invoker,
		Logger:  logger.With("component", "TriggerAPI"),
	}
}

// InvokeResponse is the body returned by the trigger endpoint.
type InvokeResponse struct {
	OK        bool   `json:"ok"`
	Processed int    `json:"processed"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

// Invoke runs one invocation and reports {ok, processed}. Fatal aborts are a 500;
// an overlapping invocation is a 409.
func (api *TriggerAPI) Invoke(w http.ResponseWriter, r *http.Request) {
	summary, err := api.Invoker.Invoke(r.Context())
	switch {
	case errors.Is(err, dispatch.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, InvokeResponse{Error: err.Error()})
	case err != nil:
		api.Logger.Error("Triggered invocation failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, InvokeResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, InvokeResponse{
			OK:        true,
			Processed: summary.Processed,
			Sent:      summary.Sent,
			Failed:    summary.Failed,
			Skipped:   summary.Skipped,
		})
	}
}

// RequireBearer rejects requests whose bearer token does not match secret.
// An empty secret leaves the handler open.
func RequireBearer(secret string, next http.Handler) http.Handler {
	if secret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
