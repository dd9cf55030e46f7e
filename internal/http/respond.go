package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/linkhub/internal/linking"
	"github.com/nextlevelbuilder/linkhub/internal/providers"
	"github.com/nextlevelbuilder/linkhub/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeLinkError maps linking-layer errors onto HTTP statuses. The slot-wait
// case is special: the session is alive and the body carries its state, so it
// goes out as a conflict with a full result payload.
func writeLinkError(w http.ResponseWriter, res *linking.CheckResult, err error) {
	var verr *linking.ValidationError
	var cerr *linking.CooldownError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": verr.Error(),
			"field": verr.Field,
		})
	case errors.As(err, &cerr):
		w.Header().Set("Retry-After", formatSeconds(cerr.Remaining))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":            "resend cooldown active",
			"retry_after_secs": int(cerr.Remaining.Seconds()) + 1,
		})
	case errors.Is(err, linking.ErrAccountLimit):
		if res == nil {
			res = &linking.CheckResult{Status: store.StatusSlotWait}
		}
		writeJSON(w, http.StatusConflict, res)
	case errors.Is(err, linking.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, linking.ErrSessionExpired):
		writeError(w, http.StatusGone, "session expired")
	case errors.Is(err, providers.ErrMethodNotSupported):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, providers.ErrRejected):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, providers.ErrTransient):
		writeError(w, http.StatusServiceUnavailable, "provider temporarily unavailable, retry")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.Itoa(int(d.Seconds()) + 1)
}
