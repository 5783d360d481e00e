package filters

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/skadler/advfilters/internal/auth"
	"github.com/skadler/advfilters/internal/catalog"
	"github.com/skadler/advfilters/internal/domain"
	"github.com/skadler/advfilters/internal/repository"
	"github.com/skadler/advfilters/pkg/qfilter"
)

type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.RequireIdentity(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/models"):
		h.handleModels(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/editor"):
		h.handleEditor(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/entities"):
		h.handleEntities(w, r, identity)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/rows"):
		h.handleRows(w, r, identity)
	case r.Method == http.MethodPost:
		h.handleSave(w, r, identity)
	case r.Method == http.MethodPut:
		h.handleUpdate(w, r, identity)
	case r.Method == http.MethodDelete:
		h.handleDelete(w, r, identity)
	case r.Method == http.MethodGet:
		h.handleGetOrList(w, r, identity)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type conditionInput struct {
	Field     string `json:"field"`
	Operator  string `json:"operator"`
	Value     any    `json:"value"`
	ValueFrom *int64 `json:"valueFrom"`
	ValueTo   *int64 `json:"valueTo"`
	Negate    bool   `json:"negate"`
	Delete    bool   `json:"delete"`
}

type saveFilterPayload struct {
	Title      string           `json:"title"`
	EntityType string           `json:"entityType"`
	Rows       []conditionInput `json:"rows"`
	Users      []string         `json:"users"`
	Groups     []string         `json:"groups"`
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	defer r.Body.Close()
	var payload saveFilterPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	req, err := toSaveRequest(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter, err := h.service.Save(r.Context(), identity, req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusCreated, filter)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	id, err := filterIDFromPath(r.URL.Path, "")
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid filter identifier: %v", err), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	var payload saveFilterPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	req, err := toSaveRequest(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter, err := h.service.Update(r.Context(), identity, id, req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, filter)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	id, err := filterIDFromPath(r.URL.Path, "")
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid filter identifier: %v", err), http.StatusBadRequest)
		return
	}
	if err := h.service.Delete(r.Context(), identity, id); err != nil {
		http.Error(w, err.Error(), statusFor(err, http.StatusInternalServerError))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetOrList(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	if id, err := filterIDFromPath(r.URL.Path, ""); err == nil {
		filter, getErr := h.service.Get(r.Context(), identity, id)
		if getErr != nil {
			http.Error(w, getErr.Error(), statusFor(getErr, http.StatusInternalServerError))
			return
		}
		writeJSON(w, http.StatusOK, filter)
		return
	}

	filters, err := h.service.List(r.Context(), identity, r.URL.Query().Get("entityType"))
	if err != nil {
		http.Error(w, fmt.Sprintf("list filters: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, filters)
}

func (h *Handler) handleRows(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	id, err := filterIDFromPath(r.URL.Path, "/rows")
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid filter identifier: %v", err), http.StatusBadRequest)
		return
	}
	rows, err := h.service.Rows(r.Context(), identity, id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err, http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.service.Models(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("list models: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (h *Handler) handleEditor(w http.ResponseWriter, r *http.Request) {
	entityType := strings.TrimSpace(r.URL.Query().Get("entityType"))
	if entityType == "" {
		http.Error(w, "entityType is required", http.StatusBadRequest)
		return
	}
	editor, err := h.service.Editor(r.Context(), entityType)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err, http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, editor)
}

type entityPagePayload struct {
	Entities   []domain.Entity      `json:"entities"`
	TotalCount int                  `json:"total_count"`
	Limit      int                  `json:"limit"`
	Offset     int                  `json:"offset"`
	Filter     *domain.StoredFilter `json:"filter,omitempty"`
	Degraded   bool                 `json:"degraded,omitempty"`
}

func (h *Handler) handleEntities(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	query := r.URL.Query()
	req := ApplyRequest{EntityType: strings.TrimSpace(query.Get("entityType"))}

	if raw := strings.TrimSpace(query.Get("filter")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid filter: %v", err), http.StatusBadRequest)
			return
		}
		req.FilterID = id
	}

	sort, err := parseSort(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Sort = sort

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		req.Limit = parsed
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "offset must be zero or positive", http.StatusBadRequest)
			return
		}
		req.Offset = parsed
	}

	page, err := h.service.Apply(r.Context(), identity, req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, entityPagePayload{
		Entities:   page.Entities,
		TotalCount: page.TotalCount,
		Limit:      page.Limit,
		Offset:     page.Offset,
		Filter:     page.Filter,
		Degraded:   page.Degraded,
	})
}

func toSaveRequest(payload saveFilterPayload) (SaveRequest, error) {
	req := SaveRequest{
		Title:      payload.Title,
		EntityType: payload.EntityType,
		Groups:     payload.Groups,
	}
	for _, input := range payload.Rows {
		row := qfilter.Condition{
			Field:    strings.TrimSpace(input.Field),
			Operator: qfilter.Operator(strings.TrimSpace(input.Operator)),
			Value:    input.Value,
			Negate:   input.Negate,
			Delete:   input.Delete,
		}
		if input.ValueFrom != nil {
			row.ValueFrom = *input.ValueFrom
		}
		if input.ValueTo != nil {
			row.ValueTo = *input.ValueTo
		}
		req.Rows = append(req.Rows, row)
	}
	for _, raw := range payload.Users {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			return SaveRequest{}, fmt.Errorf("invalid user id %q: %v", raw, err)
		}
		req.Users = append(req.Users, id)
	}
	return req, nil
}

func parseSort(query url.Values) (*domain.EntitySort, error) {
	raw := strings.TrimSpace(query.Get("sort"))
	if raw == "" {
		return nil, nil
	}
	field := domain.EntitySortField(raw)
	switch field {
	case domain.EntitySortFieldCreatedAt, domain.EntitySortFieldUpdatedAt,
		domain.EntitySortFieldEntityType, domain.EntitySortFieldProperty:
	default:
		return nil, fmt.Errorf("unsupported sort field %q", raw)
	}

	sort := &domain.EntitySort{Field: field, Direction: domain.SortDirectionAsc}
	if dir := strings.ToLower(strings.TrimSpace(query.Get("direction"))); dir != "" {
		switch domain.SortDirection(dir) {
		case domain.SortDirectionAsc, domain.SortDirectionDesc:
			sort.Direction = domain.SortDirection(dir)
		default:
			return nil, fmt.Errorf("unsupported sort direction %q", dir)
		}
	}
	if field == domain.EntitySortFieldProperty {
		key := strings.TrimSpace(query.Get("property"))
		if key == "" {
			return nil, errors.New("property is required when sorting by property")
		}
		sort.PropertyKey = key
	}
	return sort, nil
}

// filterIDFromPath parses the UUID path segment, optionally trimming an
// action suffix such as "/rows" first.
func filterIDFromPath(path, action string) (uuid.UUID, error) {
	path = strings.TrimSuffix(path, "/")
	if action != "" {
		path = strings.TrimSuffix(path, action)
		path = strings.TrimSuffix(path, "/")
	}
	idx := strings.LastIndex(path, "/")
	if idx == -1 || idx == len(path)-1 {
		return uuid.Nil, fmt.Errorf("missing filter identifier")
	}
	return uuid.Parse(path[idx+1:])
}

// statusFor maps the error taxonomy onto status codes: rows the caller
// cannot see are 404, a stored token that no longer decodes is 422, and a
// non-filterable entity type is 400. Anything else keeps the fallback.
func statusFor(err error, fallback int) int {
	var corrupt *qfilter.CorruptTokenError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &corrupt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrNotFilterable):
		return http.StatusBadRequest
	default:
		return fallback
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
