package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/skadler/advfilters/internal/domain"
)

// Handler exposes ingestion over HTTP: POST uploads a file, POST /preview
// dry-runs it, GET /logs lists recorded row problems.
type Handler struct {
	service   *Service
	maxUpload int64
}

// NewHTTPHandler wraps the service. A non-positive maxUploadBytes falls
// back to 32 MiB.
func NewHTTPHandler(service *Service, maxUploadBytes int64) http.Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &Handler{service: service, maxUpload: maxUploadBytes}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/logs"):
		h.handleLogs(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/preview"):
		h.handlePreview(w, r)
	case r.Method == http.MethodPost:
		h.handleIngest(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	upload, err := h.parseUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := Request{
		SchemaName:      upload.schemaName,
		Description:     upload.description,
		FileName:        upload.fileName,
		HeaderRowIndex:  upload.headerRowIndex,
		ColumnOverrides: upload.columnOverrides,
		Data:            bytes.NewReader(upload.data),
	}

	summary, err := h.service.Ingest(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	upload, err := h.parseUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := PreviewRequest{
		SchemaName:      upload.schemaName,
		FileName:        upload.fileName,
		HeaderRowIndex:  upload.headerRowIndex,
		ColumnOverrides: upload.columnOverrides,
		Data:            bytes.NewReader(upload.data),
	}
	if raw := strings.TrimSpace(r.FormValue("limit")); raw != "" {
		if limit, parseErr := strconv.Atoi(raw); parseErr == nil && limit > 0 {
			req.Limit = limit
		}
	}

	result, err := h.service.Preview(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	schemaName := strings.TrimSpace(query.Get("schema"))
	if schemaName == "" {
		http.Error(w, "schema is required", http.StatusBadRequest)
		return
	}

	limit := 0
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

	logs, err := h.service.Logs(r.Context(), schemaName, strings.TrimSpace(query.Get("file")), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

type uploadForm struct {
	schemaName      string
	description     string
	fileName        string
	headerRowIndex  *int
	columnOverrides map[string]domain.FieldType
	data            []byte
}

func (h *Handler) parseUpload(r *http.Request) (uploadForm, error) {
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return uploadForm{}, fmt.Errorf("invalid form data: %v", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return uploadForm{}, fmt.Errorf("file required: %v", err)
	}
	defer file.Close()

	form := uploadForm{
		schemaName:  strings.TrimSpace(r.FormValue("schemaName")),
		description: strings.TrimSpace(r.FormValue("description")),
		fileName:    header.Filename,
	}
	if form.schemaName == "" {
		return uploadForm{}, fmt.Errorf("schemaName is required")
	}

	if raw := strings.TrimSpace(r.FormValue("headerRowIndex")); raw != "" {
		idx, parseErr := strconv.Atoi(raw)
		if parseErr != nil || idx < 0 {
			return uploadForm{}, fmt.Errorf("invalid headerRowIndex %q", raw)
		}
		form.headerRowIndex = &idx
	}

	if raw := strings.TrimSpace(r.FormValue("columnTypes")); raw != "" {
		overrides := make(map[string]string)
		if parseErr := json.Unmarshal([]byte(raw), &overrides); parseErr != nil {
			return uploadForm{}, fmt.Errorf("invalid columnTypes: %v", parseErr)
		}
		form.columnOverrides = make(map[string]domain.FieldType, len(overrides))
		for name, fieldType := range overrides {
			form.columnOverrides[name] = domain.FieldType(strings.TrimSpace(fieldType))
		}
	}

	form.data, err = io.ReadAll(file)
	if err != nil {
		return uploadForm{}, fmt.Errorf("failed to read file: %v", err)
	}

	return form, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
