package filters

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/skadler/advfilters/internal/auth"
	"github.com/skadler/advfilters/internal/catalog"
	"github.com/skadler/advfilters/internal/domain"
	"github.com/skadler/advfilters/internal/repository"
	"github.com/skadler/advfilters/pkg/qfilter"
)

// Service coordinates stored filters end to end: condition rows are
// compiled against the entity catalog, encoded into a bounded token,
// persisted, and later decoded back for editing or execution.
type Service struct {
	filterRepo repository.FilterRepository
	entityRepo repository.EntityRepository
	catalog    *catalog.Catalog
	codec      qfilter.Codec
	pageSize   int
}

type Option func(*Service)

// WithMaxEncodedLength overrides the byte budget enforced when a filter's
// encoded token is produced.
func WithMaxEncodedLength(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.codec.MaxEncodedLength = limit
		}
	}
}

// WithPageSize overrides the default page size of filtered listings.
func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

const maxPageSize = 1000

func NewService(
	filterRepo repository.FilterRepository,
	entityRepo repository.EntityRepository,
	cat *catalog.Catalog,
	opts ...Option,
) *Service {
	service := &Service{
		filterRepo: filterRepo,
		entityRepo: entityRepo,
		catalog:    cat,
		pageSize:   100,
	}
	for _, opt := range opts {
		opt(service)
	}
	if service.pageSize <= 0 {
		service.pageSize = 100
	}
	return service
}

// SaveRequest carries a full filter definition as submitted by the editor.
// Update uses the same shape: the editor always posts the complete form.
type SaveRequest struct {
	Title      string
	EntityType string
	Rows       []qfilter.Condition
	Users      []uuid.UUID
	Groups     []string
}

// Save validates and stores a new filter owned by the caller.
func (s *Service) Save(ctx context.Context, identity auth.Identity, req SaveRequest) (domain.StoredFilter, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.StoredFilter{}, errors.New("title is required")
	}
	entityType := strings.TrimSpace(req.EntityType)
	if entityType == "" {
		return domain.StoredFilter{}, errors.New("entity type is required")
	}

	encoded, err := s.encodeRows(ctx, entityType, req.Rows)
	if err != nil {
		return domain.StoredFilter{}, err
	}

	filter := domain.NewStoredFilter(title, entityType, encoded, identity.UserID)
	if len(req.Users) > 0 || len(req.Groups) > 0 {
		filter = filter.WithSharing(req.Users, req.Groups)
	}

	created, err := s.filterRepo.Create(ctx, filter)
	if err != nil {
		return domain.StoredFilter{}, fmt.Errorf("failed to store filter: %w", err)
	}
	return created, nil
}

// Update replaces an existing filter's definition. The target stays bound
// to its entity type; a request naming a different one is rejected.
func (s *Service) Update(ctx context.Context, identity auth.Identity, id uuid.UUID, req SaveRequest) (domain.StoredFilter, error) {
	filter, err := s.Get(ctx, identity, id)
	if err != nil {
		return domain.StoredFilter{}, err
	}

	if entityType := strings.TrimSpace(req.EntityType); entityType != "" && entityType != filter.EntityType {
		return domain.StoredFilter{}, fmt.Errorf("filter %s targets %q, not %q", id, filter.EntityType, entityType)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.StoredFilter{}, errors.New("title is required")
	}

	encoded, err := s.encodeRows(ctx, filter.EntityType, req.Rows)
	if err != nil {
		return domain.StoredFilter{}, err
	}

	filter = filter.WithTitle(title).WithEncodedQuery(encoded).WithSharing(req.Users, req.Groups)
	updated, err := s.filterRepo.Update(ctx, filter)
	if err != nil {
		return domain.StoredFilter{}, fmt.Errorf("failed to update filter: %w", err)
	}
	return updated, nil
}

// Get loads one filter. Filters the caller cannot see are reported as not
// found rather than as forbidden.
func (s *Service) Get(ctx context.Context, identity auth.Identity, id uuid.UUID) (domain.StoredFilter, error) {
	filter, err := s.filterRepo.GetByID(ctx, id)
	if err != nil {
		return domain.StoredFilter{}, err
	}
	if !filter.IsVisibleTo(identity.UserID, identity.NormalizedGroups()) {
		return domain.StoredFilter{}, fmt.Errorf("filter %s: %w", id, repository.ErrNotFound)
	}
	return filter, nil
}

// List returns every filter shared with the caller, newest first. A
// non-empty entityType narrows the listing to filters targeting that type.
func (s *Service) List(ctx context.Context, identity auth.Identity, entityType string) ([]domain.StoredFilter, error) {
	entityType = strings.TrimSpace(entityType)
	if entityType != "" {
		return s.filterRepo.ListByEntityType(ctx, entityType, identity.UserID, identity.NormalizedGroups())
	}
	return s.filterRepo.ListVisible(ctx, identity.UserID, identity.NormalizedGroups())
}

// Delete removes a filter the caller can see.
func (s *Service) Delete(ctx context.Context, identity auth.Identity, id uuid.UUID) error {
	if _, err := s.Get(ctx, identity, id); err != nil {
		return err
	}
	return s.filterRepo.Delete(ctx, id)
}

// Rows decodes a stored filter back into editable condition rows.
// Conditions on fields the schema no longer exposes are dropped with a log
// line, so a stale filter stays editable instead of erroring out.
func (s *Service) Rows(ctx context.Context, identity auth.Identity, id uuid.UUID) ([]qfilter.Condition, error) {
	filter, err := s.Get(ctx, identity, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.codec.DecodeRows(filter.EncodedQuery)
	if err != nil {
		return nil, err
	}

	view, err := s.catalog.View(ctx, filter.EntityType)
	if err != nil {
		return nil, err
	}
	tree, err := qfilter.Compile(rows, qfilter.CompileOptions{
		Catalog:        view,
		SkipUnresolved: true,
		OnSkip: func(row qfilter.Condition, cause error) {
			log.Printf("[filters] filter %s: dropping stale condition: %v", id, cause)
		},
	})
	if err != nil {
		return nil, err
	}
	return qfilter.Rows(tree), nil
}

// ApplyRequest selects which entities to list. With a filter ID the stored
// predicate restricts the listing; without one the whole entity type pages
// through unfiltered.
type ApplyRequest struct {
	FilterID   uuid.UUID
	EntityType string
	Sort       *domain.EntitySort
	Limit      int
	Offset     int
}

// EntityPage is one page of a filtered listing.
type EntityPage struct {
	Entities   []domain.Entity
	TotalCount int
	Limit      int
	Offset     int
	// Filter is set when the page was produced by a stored filter.
	Filter *domain.StoredFilter
	// Degraded is set when the stored filter's token failed to decode and
	// the page fell back to the unfiltered listing.
	Degraded bool
}

// Apply executes a listing. A stored filter's token is decoded and lowered
// into the entity query. A corrupt token never blocks the listing: it is
// logged and the page degrades to the unfiltered set, flagged as such.
func (s *Service) Apply(ctx context.Context, identity auth.Identity, req ApplyRequest) (EntityPage, error) {
	entityType := strings.TrimSpace(req.EntityType)
	predicate := qfilter.MatchAll()

	var applied *domain.StoredFilter
	var degraded bool
	if req.FilterID != uuid.Nil {
		filter, err := s.Get(ctx, identity, req.FilterID)
		if err != nil {
			return EntityPage{}, err
		}
		if entityType != "" && entityType != filter.EntityType {
			return EntityPage{}, fmt.Errorf("filter %s targets %q, not %q", filter.ID, filter.EntityType, entityType)
		}
		entityType = filter.EntityType

		tree, err := s.codec.Decode(filter.EncodedQuery)
		if err != nil {
			log.Printf("[filters] filter %s: corrupt stored query, listing unfiltered: %v", filter.ID, err)
			degraded = true
		} else {
			predicate = tree
		}
		applied = &filter
	}

	if entityType == "" {
		return EntityPage{}, errors.New("entity type is required")
	}
	view, err := s.catalog.View(ctx, entityType)
	if err != nil {
		return EntityPage{}, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	entities, total, err := s.entityRepo.List(ctx, repository.EntityQuery{
		EntityType: entityType,
		Predicate:  predicate,
		Fields:     view,
		Sort:       req.Sort,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return EntityPage{}, fmt.Errorf("failed to list entities: %w", err)
	}

	return EntityPage{
		Entities:   entities,
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
		Filter:     applied,
		Degraded:   degraded,
	}, nil
}

// Models lists the entity types the editor may build filters for.
func (s *Service) Models(ctx context.Context) ([]string, error) {
	return s.catalog.Models(ctx)
}

// EditorContext bundles what the filter editor needs to render its rows
// for one entity type: the field choices and the operator vocabulary.
type EditorContext struct {
	EntityType string                   `json:"entity_type"`
	Fields     []qfilter.Field          `json:"fields"`
	Operators  []qfilter.OperatorChoice `json:"operators"`
	Separator  string                   `json:"separator"`
}

// Editor returns the editor context for an entity type.
func (s *Service) Editor(ctx context.Context, entityType string) (EditorContext, error) {
	view, err := s.catalog.View(ctx, entityType)
	if err != nil {
		return EditorContext{}, err
	}
	return EditorContext{
		EntityType: entityType,
		Fields:     view.Fields(),
		Operators:  qfilter.Operators(),
		Separator:  qfilter.OrField,
	}, nil
}

// encodeRows runs the save-side pipeline: strict compile against the
// current catalog view, then encode within the byte budget.
func (s *Service) encodeRows(ctx context.Context, entityType string, rows []qfilter.Condition) (string, error) {
	view, err := s.catalog.View(ctx, entityType)
	if err != nil {
		return "", err
	}
	tree, err := qfilter.Compile(rows, qfilter.CompileOptions{Catalog: view})
	if err != nil {
		return "", err
	}
	if qfilter.IsMatchAll(tree) {
		return "", errors.New("filter needs at least one condition")
	}
	return s.codec.Encode(tree)
}
