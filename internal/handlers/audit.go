package handlers

import (
	"net/http"
	"strconv"

	"github.com/gundcab/shipsync/httpx"
	"github.com/gundcab/shipsync/internal/store"
)

type AuditHandler struct {
	Store *store.Store
}

func NewAuditHandler(s *store.Store) *AuditHandler { return &AuditHandler{Store: s} }

// List serves the read-only audit surface, newest entries first.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	entries, err := h.Store.ListAudit(r.Context(), limit)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_list_audit_logs", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}
