package export

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/xuri/excelize/v2"

	"github.com/skadler/advfilters/internal/auth"
	"github.com/skadler/advfilters/internal/catalog"
	"github.com/skadler/advfilters/internal/domain"
	"github.com/skadler/advfilters/internal/repository"
	"github.com/skadler/advfilters/pkg/qfilter"
)

var errJobNotRunnable = errors.New("export job is no longer runnable")

// Service produces downloadable files from entity listings. A job snapshots
// the listing it exports (entity type plus optional stored filter), runs it
// on a worker goroutine, and streams the rows into a CSV, gzipped CSV or
// XLSX file under the export directory.
type Service struct {
	filterRepo repository.FilterRepository
	schemaRepo repository.EntitySchemaRepository
	entityRepo repository.EntityRepository
	exportRepo repository.ExportJobRepository
	catalog    *catalog.Catalog
	codec      qfilter.Codec

	exportDir  string
	jobTimeout time.Duration
	pageSize   int
	now        func() time.Time

	downloadSigner *downloadSigner

	workerCancels sync.Map // map[uuid.UUID]context.CancelFunc
}

type Option func(*Service)

func WithExportDirectory(dir string) Option {
	return func(s *Service) {
		if strings.TrimSpace(dir) != "" {
			s.exportDir = filepath.Clean(dir)
		}
	}
}

func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.jobTimeout = timeout
		}
	}
}

func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithDownloadTokenTTL customizes the TTL for generated download links.
func WithDownloadTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.downloadSigner = newDownloadSigner(ttl)
		}
	}
}

func NewService(
	filterRepo repository.FilterRepository,
	schemaRepo repository.EntitySchemaRepository,
	entityRepo repository.EntityRepository,
	exportRepo repository.ExportJobRepository,
	cat *catalog.Catalog,
	opts ...Option,
) *Service {
	service := &Service{
		filterRepo: filterRepo,
		schemaRepo: schemaRepo,
		entityRepo: entityRepo,
		exportRepo: exportRepo,
		catalog:    cat,
		exportDir:  filepath.Join(os.TempDir(), "advfilters-exports"),
		jobTimeout: 30 * time.Minute,
		pageSize:   1000,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.pageSize <= 0 {
		service.pageSize = 1000
	}
	if service.jobTimeout <= 0 {
		service.jobTimeout = 30 * time.Minute
	}
	if strings.TrimSpace(service.exportDir) == "" {
		service.exportDir = filepath.Join(os.TempDir(), "advfilters-exports")
	}
	if service.downloadSigner == nil {
		service.downloadSigner = newDownloadSigner(5 * time.Minute)
	}
	if service.now == nil {
		service.now = time.Now
	}
	return service
}

// Request describes what to export: a whole entity type, or the listing a
// stored filter produces.
type Request struct {
	EntityType string
	FilterID   *uuid.UUID
	Format     domain.ExportFormat
}

// Queue validates the request, persists a pending job and starts a worker
// for it. A filter that no longer decodes fails here, before any file work.
func (s *Service) Queue(ctx context.Context, identity auth.Identity, req Request) (domain.ExportJob, error) {
	format := req.Format
	if format == "" {
		format = domain.ExportFormatCSV
	}
	switch format {
	case domain.ExportFormatCSV, domain.ExportFormatCSVGzip, domain.ExportFormatXLSX:
	default:
		return domain.ExportJob{}, fmt.Errorf("unsupported export format %q", req.Format)
	}

	entityType := strings.TrimSpace(req.EntityType)
	predicate := qfilter.MatchAll()
	if req.FilterID != nil {
		filter, err := s.filterRepo.GetByID(ctx, *req.FilterID)
		if err != nil {
			return domain.ExportJob{}, err
		}
		if !filter.IsVisibleTo(identity.UserID, identity.NormalizedGroups()) {
			return domain.ExportJob{}, fmt.Errorf("filter %s: %w", filter.ID, repository.ErrNotFound)
		}
		if entityType != "" && entityType != filter.EntityType {
			return domain.ExportJob{}, fmt.Errorf("filter %s targets %q, not %q", filter.ID, filter.EntityType, entityType)
		}
		entityType = filter.EntityType

		tree, err := s.codec.Decode(filter.EncodedQuery)
		if err != nil {
			return domain.ExportJob{}, fmt.Errorf("filter %s: %w", filter.ID, err)
		}
		predicate = tree
	}
	if entityType == "" {
		return domain.ExportJob{}, errors.New("entity type is required")
	}

	view, err := s.catalog.View(ctx, entityType)
	if err != nil {
		return domain.ExportJob{}, err
	}
	_, total, err := s.entityRepo.List(ctx, repository.EntityQuery{
		EntityType: entityType,
		Predicate:  predicate,
		Fields:     view,
		Limit:      1,
	})
	if err != nil {
		return domain.ExportJob{}, fmt.Errorf("estimate export rows: %w", err)
	}

	job := domain.ExportJob{
		EntityType:    entityType,
		FilterID:      req.FilterID,
		Format:        format,
		RequestedBy:   identity.UserID,
		RowsRequested: total,
	}
	persisted, err := s.exportRepo.Create(ctx, job)
	if err != nil {
		return domain.ExportJob{}, err
	}
	s.launchWorker(persisted)
	return persisted, nil
}

func (s *Service) ListJobs(ctx context.Context, statuses []domain.ExportJobStatus, limit, offset int) ([]domain.ExportJob, error) {
	return s.exportRepo.List(ctx, statuses, limit, offset)
}

// GetJob returns the metadata for a single export job.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	if id == uuid.Nil {
		return domain.ExportJob{}, errors.New("job ID is required")
	}
	return s.exportRepo.GetByID(ctx, id)
}

// BuildDownloadURL signs a short-lived download URL for completed export files.
func (s *Service) BuildDownloadURL(job domain.ExportJob) (*string, error) {
	if job.Status != domain.ExportJobStatusCompleted {
		return nil, nil
	}
	if job.FilePath == nil || strings.TrimSpace(*job.FilePath) == "" {
		return nil, nil
	}
	if s.downloadSigner == nil {
		return nil, errors.New("download signer not configured")
	}
	token := s.downloadSigner.Sign(job.ID, s.now())
	values := url.Values{}
	values.Set("token", token)
	download := fmt.Sprintf("/api/exports/files/%s?%s", job.ID.String(), values.Encode())
	return &download, nil
}

// ValidateDownloadToken ensures the token is valid for the given job.
func (s *Service) ValidateDownloadToken(jobID uuid.UUID, token string) error {
	if s.downloadSigner == nil {
		return errors.New("download signer not configured")
	}
	return s.downloadSigner.Verify(jobID, token, s.now())
}

// OpenJobFile opens the completed export file for streaming to the client.
func (s *Service) OpenJobFile(job domain.ExportJob) (*os.File, error) {
	if job.Status != domain.ExportJobStatusCompleted {
		return nil, errors.New("export is not completed")
	}
	if job.FilePath == nil || strings.TrimSpace(*job.FilePath) == "" {
		return nil, errors.New("export file is unavailable")
	}
	file, err := os.Open(*job.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return file, nil
}

// CancelJob requests cancellation for a pending or running export job.
func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) (domain.ExportJob, error) {
	if id == uuid.Nil {
		return domain.ExportJob{}, errors.New("job ID is required")
	}
	job, err := s.exportRepo.GetByID(ctx, id)
	if err != nil {
		return domain.ExportJob{}, err
	}
	if job.Status != domain.ExportJobStatusPending && job.Status != domain.ExportJobStatusRunning {
		return job, fmt.Errorf("export job in status %s cannot be cancelled", job.Status)
	}
	reason := "Cancelled by user"
	if err := s.exportRepo.MarkCancelled(ctx, id, reason); err != nil {
		if errors.Is(err, repository.ErrExportJobStatusConflict) {
			updated, getErr := s.exportRepo.GetByID(ctx, id)
			if getErr != nil {
				return domain.ExportJob{}, getErr
			}
			return updated, nil
		}
		return domain.ExportJob{}, err
	}
	if cancel, ok := s.workerCancels.LoadAndDelete(id); ok {
		if fn, okCast := cancel.(context.CancelFunc); okCast {
			fn()
		}
	}
	return s.exportRepo.GetByID(ctx, id)
}

func (s *Service) launchWorker(job domain.ExportJob) {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	ctx := baseCtx
	cancelFunc := baseCancel
	if s.jobTimeout > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(baseCtx, s.jobTimeout)
		ctx = timeoutCtx
		cancelFunc = func() {
			timeoutCancel()
			baseCancel()
		}
	}
	s.workerCancels.Store(job.ID, cancelFunc)
	go func() {
		defer func() {
			cancelFunc()
			s.workerCancels.Delete(job.ID)
		}()
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("panic: %v", rec)
				log.Printf("[export] panic while processing job %s: %v", job.ID, rec)
				s.failJob(context.Background(), job.ID, err)
			}
		}()
		if err := s.runExport(ctx, job); err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				log.Printf("[export] job %s cancelled", job.ID)
			case errors.Is(err, errJobNotRunnable):
				log.Printf("[export] job %s not runnable, skipping", job.ID)
			default:
				s.failJob(ctx, job.ID, err)
			}
		}
	}()
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, err error) {
	if err == nil {
		return
	}
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	message := truncateError(err)
	if markErr := s.exportRepo.MarkFailed(ctx, jobID, message); markErr != nil {
		log.Printf("[export] failed to mark job %s as failed: %v (original error: %v)", jobID, markErr, err)
		return
	}
	log.Printf("[export] job %s failed: %v", jobID, err)
}

func (s *Service) runExport(ctx context.Context, job domain.ExportJob) error {
	if err := s.exportRepo.MarkRunning(ctx, job.ID); err != nil {
		if errors.Is(err, repository.ErrExportJobStatusConflict) {
			return errJobNotRunnable
		}
		return fmt.Errorf("mark export job running: %w", err)
	}

	schema, err := s.schemaRepo.GetByName(ctx, job.EntityType)
	if err != nil {
		return fmt.Errorf("load schema %s: %w", job.EntityType, err)
	}
	headers := schemaFieldNames(schema.Fields)

	query, err := s.buildQuery(ctx, job)
	if err != nil {
		return err
	}

	if err := s.ensureExportDirectory(); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(s.exportDir, fmt.Sprintf("%s-*.tmp", job.ID))
	if err != nil {
		return fmt.Errorf("create temp export file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	buffered := bufio.NewWriterSize(tempFile, 1<<20) // 1 MiB buffer for streaming writes
	counter := &countingWriter{writer: buffered}

	var rowsExported int
	switch job.Format {
	case domain.ExportFormatXLSX:
		rowsExported, err = s.writeXLSX(ctx, job, query, headers, counter)
	default:
		rowsExported, err = s.writeCSV(ctx, job, query, headers, counter, job.Format == domain.ExportFormatCSVGzip)
	}
	if err != nil {
		return err
	}

	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("final buffered flush: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("sync export file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}

	finalPath := filepath.Join(s.exportDir, s.finalFileName(job))
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("promote export file: %w", err)
	}
	cleanup = false
	info, err := os.Stat(finalPath)
	if err != nil {
		return fmt.Errorf("stat export file: %w", err)
	}
	size := info.Size()
	mime := job.Format.MimeType()
	bytesWritten := counter.count
	if bytesWritten == 0 {
		bytesWritten = size
	}
	if err := s.exportRepo.MarkCompleted(ctx, job.ID, repository.ExportResult{
		RowsExported: rowsExported,
		BytesWritten: bytesWritten,
		FilePath:     &finalPath,
		FileMimeType: &mime,
		FileByteSize: &size,
	}); err != nil {
		return fmt.Errorf("mark export completed: %w", err)
	}
	log.Printf("[export] job %s completed (rows=%d path=%s)", job.ID, rowsExported, finalPath)
	return nil
}

// buildQuery resolves the job's stored filter into an entity query. Jobs
// without a filter export the whole entity type.
func (s *Service) buildQuery(ctx context.Context, job domain.ExportJob) (repository.EntityQuery, error) {
	view, err := s.catalog.View(ctx, job.EntityType)
	if err != nil {
		return repository.EntityQuery{}, err
	}
	predicate := qfilter.MatchAll()
	if job.FilterID != nil {
		filter, err := s.filterRepo.GetByID(ctx, *job.FilterID)
		if err != nil {
			return repository.EntityQuery{}, fmt.Errorf("load filter %s: %w", *job.FilterID, err)
		}
		tree, err := s.codec.Decode(filter.EncodedQuery)
		if err != nil {
			return repository.EntityQuery{}, fmt.Errorf("filter %s: %w", filter.ID, err)
		}
		predicate = tree
	}
	return repository.EntityQuery{
		EntityType: job.EntityType,
		Predicate:  predicate,
		Fields:     view,
	}, nil
}

func (s *Service) writeCSV(ctx context.Context, job domain.ExportJob, query repository.EntityQuery, headers []string, counter *countingWriter, compressed bool) (int, error) {
	var target io.Writer = counter
	var gzWriter *gzip.Writer
	if compressed {
		gzWriter = gzip.NewWriter(counter)
		target = gzWriter
	}
	csvWriter := csv.NewWriter(target)

	if len(headers) > 0 {
		if err := csvWriter.Write(headers); err != nil {
			return 0, fmt.Errorf("write header: %w", err)
		}
	}

	rows := make([]string, len(headers))
	rowsExported := 0
	err := s.entityRepo.ListAll(ctx, query, func(entity domain.Entity) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, field := range headers {
			rows[i] = formatValue(entity.Properties[field])
		}
		if err := csvWriter.Write(rows); err != nil {
			return fmt.Errorf("write entity row: %w", err)
		}
		rowsExported++
		if rowsExported%s.pageSize == 0 {
			csvWriter.Flush()
			if err := csvWriter.Error(); err != nil {
				return fmt.Errorf("flush rows: %w", err)
			}
			if err := s.exportRepo.UpdateProgress(ctx, job.ID, rowsExported, counter.count, nil); err != nil {
				return fmt.Errorf("update export progress: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return 0, fmt.Errorf("final flush: %w", err)
	}
	if gzWriter != nil {
		if err := gzWriter.Close(); err != nil {
			return 0, fmt.Errorf("close gzip stream: %w", err)
		}
	}
	return rowsExported, nil
}

func (s *Service) writeXLSX(ctx context.Context, job domain.ExportJob, query repository.EntityQuery, headers []string, counter *countingWriter) (int, error) {
	workbook := excelize.NewFile()
	defer workbook.Close()

	stream, err := workbook.NewStreamWriter("Sheet1")
	if err != nil {
		return 0, fmt.Errorf("open stream writer: %w", err)
	}

	if len(headers) > 0 {
		headerRow := make([]any, len(headers))
		for i, header := range headers {
			headerRow[i] = header
		}
		if err := stream.SetRow("A1", headerRow); err != nil {
			return 0, fmt.Errorf("write header: %w", err)
		}
	}

	rowIndex := 2
	rowsExported := 0
	err = s.entityRepo.ListAll(ctx, query, func(entity domain.Entity) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := make([]any, len(headers))
		for i, field := range headers {
			row[i] = formatValue(entity.Properties[field])
		}
		cell, cellErr := excelize.CoordinatesToCellName(1, rowIndex)
		if cellErr != nil {
			return fmt.Errorf("compute row cell: %w", cellErr)
		}
		if err := stream.SetRow(cell, row); err != nil {
			return fmt.Errorf("write entity row: %w", err)
		}
		rowIndex++
		rowsExported++
		if rowsExported%s.pageSize == 0 {
			if err := s.exportRepo.UpdateProgress(ctx, job.ID, rowsExported, 0, nil); err != nil {
				return fmt.Errorf("update export progress: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if err := stream.Flush(); err != nil {
		return 0, fmt.Errorf("flush stream writer: %w", err)
	}
	if err := workbook.Write(counter); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return rowsExported, nil
}

func (s *Service) ensureExportDirectory() error {
	if strings.TrimSpace(s.exportDir) == "" {
		return errors.New("export directory is not configured")
	}
	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return fmt.Errorf("ensure export directory: %w", err)
	}
	return nil
}

func (s *Service) finalFileName(job domain.ExportJob) string {
	base := sanitizeFileComponent(job.EntityType)
	if base == "" {
		base = "entity-export"
	}
	return fmt.Sprintf("%s-%s%s", base, job.ID.String(), job.Format.Extension())
}

func schemaFieldNames(fields []domain.FieldDefinition) []string {
	names := make([]string, 0, len(fields))
	for _, field := range fields {
		if strings.TrimSpace(field.Name) != "" {
			names = append(names, field.Name)
		}
	}
	return names
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		case r == ' ':
			builder.WriteRune('-')
		default:
			builder.WriteRune('-')
		}
	}
	result := builder.String()
	result = strings.Trim(result, "-")
	if result == "" {
		return "export"
	}
	return result
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.UTC().Format(time.RFC3339)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case json.Number:
		return v.String()
	case float32, float64, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case []byte:
		return string(v)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	const maxLen = 512
	msg := err.Error()
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}

type downloadSigner struct {
	secret []byte
	ttl    time.Duration
}

func newDownloadSigner(ttl time.Duration) *downloadSigner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &downloadSigner{secret: []byte(uuid.New().String()), ttl: ttl}
}

func (s *downloadSigner) Sign(jobID uuid.UUID, now time.Time) string {
	expires := now.Add(s.ttl).Unix()
	payload := fmt.Sprintf("%s:%d", jobID.String(), expires)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))
	raw := fmt.Sprintf("%s:%s", payload, signature)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func (s *downloadSigner) Verify(jobID uuid.UUID, token string, now time.Time) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("missing download token")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("decode token: %w", err)
	}
	parts := strings.Split(string(decoded), ":")
	if len(parts) != 3 {
		return errors.New("invalid token format")
	}
	if parts[0] != jobID.String() {
		return errors.New("token does not match export job")
	}
	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token expiration: %w", err)
	}
	if now.Unix() > expires {
		return errors.New("download token expired")
	}
	payload := fmt.Sprintf("%s:%s", parts[0], parts[1])
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	expected := mac.Sum(nil)
	provided, err := hex.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("invalid token signature: %w", err)
	}
	if !hmac.Equal(expected, provided) {
		return errors.New("invalid download token")
	}
	return nil
}
