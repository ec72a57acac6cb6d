package handlers

import (
	"net/http"
	"strconv"

	"github.com/adimian/kabuto/internal/coordinator/middleware"
	"github.com/adimian/kabuto/pkg/api"
)

// GetLogs handles GET /execution/{jid}/logs and
// GET /execution/{jid}/logs/{lastID}.
// With lastID set, only lines with id > lastID come back; repeating the
// same call returns the same lines until new ones are deposited.
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	jid, err := parseID(r, "jid")
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	var afterID int64
	if raw := r.PathValue("lastID"); raw != "" {
		afterID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || afterID < 0 {
			h.httpError(w, "Invalid log line id", http.StatusBadRequest)
			return
		}
	}

	lines, err := h.lifecycle.WithdrawLogs(r.Context(), user.ID, jid, afterID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	resp := api.GetLogsResponse{Logs: make([]api.LogLine, 0, len(lines))}
	for _, l := range lines {
		resp.Logs = append(resp.Logs, api.LogLine{
			ID:        l.ID,
			Line:      l.Line,
			CreatedAt: l.CreatedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}
