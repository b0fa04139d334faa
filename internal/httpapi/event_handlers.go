package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"carebase.org/internal/authz"
	"carebase.org/internal/event"
)

type failedEventsResponse struct {
	Items []event.Event `json:"items"`
	Count int           `json:"count"`
	AsOf  time.Time     `json:"as_of"`
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event store unavailable")
		return
	}
	if !a.ensurePermission(w, r, authz.PermEventsAppend, "") {
		return
	}

	var in event.AppendInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.events.Append(r.Context(), in)
	if err != nil {
		handleEventError(w, r, err)
		return
	}
	// 201 either way: the fact is durable even when the projection failed.
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleFailedEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event store unavailable")
		return
	}
	if !a.ensurePermission(w, r, authz.PermEventsAdmin, "") {
		return
	}

	filter := event.FailedFilter{
		StreamType: event.StreamType(strings.TrimSpace(r.URL.Query().Get("stream_type"))),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	items, err := a.events.FailedEvents(r.Context(), filter)
	if err != nil {
		handleEventError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, failedEventsResponse{
		Items: items,
		Count: len(items),
		AsOf:  time.Now().UTC(),
	})
}

// handleEventAdmin routes /v1/admin/events/{id}/retry.
func (a *API) handleEventAdmin(w http.ResponseWriter, r *http.Request) {
	if a.events == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event store unavailable")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/admin/events/")
	id, action, ok := strings.Cut(path, "/")
	if !ok || action != "retry" || id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.ensurePermission(w, r, authz.PermEventsAdmin, "") {
		return
	}

	result, err := a.events.Retry(r.Context(), id)
	if err != nil {
		handleEventError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func handleEventError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, event.ErrUnknownStreamType), errors.Is(err, event.ErrUnknownEventType):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, event.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, event.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, event.ErrAlreadyProcessed):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
