package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/skadler/advfilters/internal/auth"
	"github.com/skadler/advfilters/internal/domain"
	"github.com/skadler/advfilters/internal/middleware"
	"github.com/skadler/advfilters/internal/repository"
	"github.com/skadler/advfilters/pkg/qfilter"
)

// Handler exposes export jobs over HTTP. Relative to the mount point
// (normally /api/exports):
//
//	POST   {mount}                queue a new export
//	GET    {mount}                list jobs, newest first
//	GET    {mount}/{id}           job status
//	POST   {mount}/{id}/cancel    cancel a pending or running job
//	GET    {mount}/files/{id}     download the finished file (token gated)
type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/files/") {
		h.handleDownload(w, r)
		return
	}
	identity, err := auth.RequireIdentity(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/cancel"):
		h.handleCancel(w, r, strings.TrimSuffix(path, "/cancel"))
		return
	case r.Method == http.MethodPost:
		h.handleQueue(w, r, identity)
		return
	case r.Method == http.MethodGet:
		if id, ok := jobIDFromPath(path); ok {
			h.handleGetJob(w, r, id)
			return
		}
		h.handleListJobs(w, r)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

type queueExportPayload struct {
	EntityType string `json:"entityType"`
	Filter     string `json:"filter"`
	Format     string `json:"format"`
}

// filterSummary is the slice of a stored filter that job payloads embed so
// clients can label a job without a second round trip.
type filterSummary struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

type jobPayload struct {
	domain.ExportJob
	Filter      *filterSummary `json:"filter,omitempty"`
	DownloadURL *string        `json:"download_url,omitempty"`
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	defer r.Body.Close()
	var payload queueExportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	req := Request{
		EntityType: strings.TrimSpace(payload.EntityType),
		Format:     domain.ExportFormat(strings.ToUpper(strings.TrimSpace(payload.Format))),
	}
	if raw := strings.TrimSpace(payload.Filter); raw != "" {
		filterID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid filter id %q: %v", raw, err), http.StatusBadRequest)
			return
		}
		req.FilterID = &filterID
	}
	job, err := h.service.Queue(r.Context(), identity, req)
	if err != nil {
		http.Error(w, fmt.Sprintf("queue export: %v", err), statusFor(err, http.StatusBadRequest))
		return
	}
	writeJSON(w, http.StatusAccepted, h.jobPayload(r, job))
}

func (h *Handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	statuses := parseStatuses(query["status"])
	if len(statuses) == 0 {
		statuses = []domain.ExportJobStatus{
			domain.ExportJobStatusPending,
			domain.ExportJobStatusRunning,
			domain.ExportJobStatusCompleted,
			domain.ExportJobStatusFailed,
			domain.ExportJobStatusCancelled,
		}
	}
	limit := 20
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "offset must be zero or positive", http.StatusBadRequest)
			return
		}
		offset = parsed
	}
	jobs, err := h.service.ListJobs(r.Context(), statuses, limit, offset)
	if err != nil {
		http.Error(w, fmt.Sprintf("list jobs: %v", err), http.StatusInternalServerError)
		return
	}
	payloads := make([]jobPayload, 0, len(jobs))
	for _, job := range jobs {
		payloads = append(payloads, h.jobPayload(r, job))
	}
	writeJSON(w, http.StatusOK, payloads)
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	job, err := h.service.GetJob(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf("get export job: %v", err), statusFor(err, http.StatusInternalServerError))
		return
	}
	writeJSON(w, http.StatusOK, h.jobPayload(r, job))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, path string) {
	id, ok := jobIDFromPath(path)
	if !ok {
		http.Error(w, "invalid export job id", http.StatusBadRequest)
		return
	}
	job, err := h.service.CancelJob(r.Context(), id)
	if err != nil {
		http.Error(w, fmt.Sprintf("cancel export job: %v", err), statusFor(err, http.StatusConflict))
		return
	}
	writeJSON(w, http.StatusOK, h.jobPayload(r, job))
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	idx := strings.LastIndex(path, "/")
	if idx == -1 || idx == len(path)-1 {
		http.Error(w, "missing export identifier", http.StatusBadRequest)
		return
	}
	jobID, err := uuid.Parse(path[idx+1:])
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid export identifier: %v", err), http.StatusBadRequest)
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if err := h.service.ValidateDownloadToken(jobID, token); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	job, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		http.Error(w, fmt.Sprintf("job not found: %v", err), http.StatusNotFound)
		return
	}
	file, err := h.service.OpenJobFile(job)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer file.Close()

	filename := filepath.Base(strings.TrimSpace(*job.FilePath))
	if filename == "" {
		filename = fmt.Sprintf("export-%s%s", jobID.String(), job.Format.Extension())
	}
	contentType := job.Format.MimeType()
	if job.FileMimeType != nil && strings.TrimSpace(*job.FileMimeType) != "" {
		contentType = *job.FileMimeType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	if job.FileByteSize != nil && *job.FileByteSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(*job.FileByteSize, 10))
	}
	http.ServeContent(w, r, filename, job.UpdatedAt, file)
}

// jobPayload decorates a job with its filter's title (batched through the
// per-request loader when one is mounted) and a signed download link.
func (h *Handler) jobPayload(r *http.Request, job domain.ExportJob) jobPayload {
	payload := jobPayload{ExportJob: job}
	if download, err := h.service.BuildDownloadURL(job); err == nil {
		payload.DownloadURL = download
	}
	if job.FilterID == nil {
		return payload
	}
	loader := middleware.FilterLoaderFromContext(r.Context())
	if loader == nil {
		return payload
	}
	filter, ok, err := loader.Load(r.Context(), *job.FilterID)
	if err != nil || !ok {
		return payload
	}
	payload.Filter = &filterSummary{ID: filter.ID, Title: filter.Title}
	return payload
}

func parseStatuses(values []string) []domain.ExportJobStatus {
	if len(values) == 0 {
		return nil
	}
	result := make([]domain.ExportJobStatus, 0, len(values))
	for _, raw := range values {
		parts := strings.Split(raw, ",")
		for _, part := range parts {
			trimmed := strings.ToUpper(strings.TrimSpace(part))
			switch domain.ExportJobStatus(trimmed) {
			case domain.ExportJobStatusPending,
				domain.ExportJobStatusRunning,
				domain.ExportJobStatusCompleted,
				domain.ExportJobStatusFailed,
				domain.ExportJobStatusCancelled:
				result = append(result, domain.ExportJobStatus(trimmed))
			}
		}
	}
	return result
}

func jobIDFromPath(path string) (uuid.UUID, bool) {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx == -1 || idx == len(path)-1 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(path[idx+1:])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func statusFor(err error, fallback int) int {
	var corrupt *qfilter.CorruptTokenError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &corrupt):
		return http.StatusUnprocessableEntity
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
