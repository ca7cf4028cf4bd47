package signal

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HTTPHandler returns the webhook endpoint Retell (or an internal
// re-driver) posts completion events to. It accepts the event as soon as
// it is decoded; processing errors are logged and answered with 502 so the
// sender retries.
func (h *Handler) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var c Completion
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, "invalid completion payload", http.StatusBadRequest)
			return
		}
		if c.CallRef == "" && c.TaskID == 0 {
			http.Error(w, "call_ref or task_id required", http.StatusBadRequest)
			return
		}

		if err := h.Handle(r.Context(), c); err != nil {
			h.logger.Error("webhook completion failed",
				slog.String("call_ref", c.CallRef),
				slog.String("error", err.Error()),
			)
			http.Error(w, "completion not recorded", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
}
