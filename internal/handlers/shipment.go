package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/gundcab/shipsync/auth"
	"github.com/gundcab/shipsync/httpx"
	"github.com/gundcab/shipsync/internal/models"
	"github.com/gundcab/shipsync/internal/store"
	"github.com/gundcab/shipsync/validation"
)

const maxNotesLen = 2000

type ShipmentHandler struct {
	Store *store.Store
}

func NewShipmentHandler(s *store.Store) *ShipmentHandler { return &ShipmentHandler{Store: s} }

func (h *ShipmentHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.Store.List(r.Context())
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_list_shipments", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, recs)
}

func (h *ShipmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.JSONError(w, http.StatusNotFound, "shipment_not_found", nil)
			return
		}
		httpx.JSONError(w, http.StatusInternalServerError, "failed_to_get_shipment", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *ShipmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in store.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	normalizeCreateDates(&in)
	if in.Status == "" {
		in.Status = models.StatusPartialRelease
	}

	v := validation.Violations{}
	validation.JobNumber("job_number", in.JobNumber, v)
	validation.Required("job_name", in.JobName, v)
	validation.MaxLen("job_name", in.JobName, 200, v)
	validation.OneOf("status", in.Status, models.ValidStatuses, v)
	validation.Date("qc_release", in.QCRelease, v)
	validation.Date("created", in.Created, v)
	validation.Date("ship_plan", in.ShipPlan, v)
	validation.Date("shipped", in.Shipped, v)
	validation.MaxLen("description", in.Description, maxNotesLen, v)
	validation.MaxLen("qc_notes", in.QCNotes, maxNotesLen, v)
	validation.MaxLen("shipping_notes", in.ShippingNotes, maxNotesLen, v)
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}

	actor := actorFrom(r)
	rec, err := h.Store.Create(r.Context(), in, actor)
	if err != nil {
		if errors.Is(err, store.ErrAllocationExhausted) {
			httpx.JSONError(w, http.StatusConflict, "allocation_exhausted", nil)
			return
		}
		httpx.JSONError(w, http.StatusInternalServerError, "shipment_create_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

// updateRequest is the compare-and-swap update body: the version the caller
// last observed plus the field delta.
type updateRequest struct {
	Version int               `json:"version"`
	Changes map[string]string `json:"changes"`
}

func (h *ShipmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if req.Version < 1 {
		httpx.JSONError(w, http.StatusBadRequest, "version_required", nil)
		return
	}
	if len(req.Changes) == 0 {
		httpx.JSONError(w, http.StatusBadRequest, "empty_changes", nil)
		return
	}

	v := validation.Violations{}
	delta := store.Delta{}
	for field, value := range req.Changes {
		switch field {
		case "status":
			validation.OneOf("status", value, models.ValidStatuses, v)
		case "qc_release", "created", "ship_plan", "shipped":
			value = validation.NormalizeDate(value)
			validation.Date(field, value, v)
		case "job_name":
			validation.Required("job_name", value, v)
			validation.MaxLen("job_name", value, 200, v)
		case "description", "qc_notes", "shipping_notes":
			validation.MaxLen(field, value, maxNotesLen, v)
		}
		delta[field] = value
	}
	if !v.Empty() {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", v)
		return
	}

	rec, err := h.Store.Apply(r.Context(), id, req.Version, delta, actorFrom(r))
	if err != nil {
		var conflict *store.ConflictError
		switch {
		case errors.As(err, &conflict):
			httpx.JSONConflict(w, conflict.CurrentVersion, conflict.Current)
		case errors.Is(err, store.ErrNotFound):
			httpx.JSONError(w, http.StatusNotFound, "shipment_not_found", nil)
		case errors.Is(err, store.ErrEmptyDelta):
			httpx.JSONError(w, http.StatusBadRequest, "empty_changes", nil)
		default:
			httpx.JSONError(w, http.StatusBadRequest, "shipment_update_failed", map[string]string{"detail": err.Error()})
		}
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *ShipmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	if err := h.Store.Delete(r.Context(), id, actorFrom(r)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.JSONError(w, http.StatusNotFound, "shipment_not_found", nil)
			return
		}
		httpx.JSONError(w, http.StatusInternalServerError, "shipment_delete_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "shipment deleted"})
}

func recordID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil || id == 0 {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return 0, false
	}
	return uint(id), true
}

func actorFrom(r *http.Request) store.Actor {
	id, _ := auth.IdentityFromContext(r.Context())
	return store.Actor{ID: id.UserID, Username: id.Username}
}

func normalizeCreateDates(in *store.CreateInput) {
	in.QCRelease = validation.NormalizeDate(in.QCRelease)
	in.Created = validation.NormalizeDate(in.Created)
	in.ShipPlan = validation.NormalizeDate(in.ShipPlan)
	in.Shipped = validation.NormalizeDate(in.Shipped)
}
