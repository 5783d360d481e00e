package filterloader

import (
	"context"
	"fmt"
	"time"

	"github.com/skadler/advfilters/internal/domain"
	"github.com/skadler/advfilters/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

type FilterLoader struct {
	Loader *dataloader.Loader
}

func NewFilterLoader(repo repository.FilterRepository) *FilterLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		// Convert keys to []uuid.UUID
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				return []*dataloader.Result{{Error: fmt.Errorf("invalid UUID: %w", err)}}
			}
			ids[i] = id
		}

		// Fetch stored filters in batch
		filters, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Map UUID -> filter for ordering
		filterMap := make(map[uuid.UUID]domain.StoredFilter)
		for _, f := range filters {
			filterMap[f.ID] = f
		}

		// Build results in the same order as keys
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if f, ok := filterMap[id]; ok {
				results[i] = &dataloader.Result{Data: f}
			} else {
				results[i] = &dataloader.Result{Data: nil}
			}
		}

		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))

	return &FilterLoader{Loader: loader}
}

// Load fetches one stored filter through the batcher. The second return is
// false when the filter does not exist; deleted filters are not an error so
// listings referencing them can render a placeholder.
func (l *FilterLoader) Load(ctx context.Context, id uuid.UUID) (domain.StoredFilter, bool, error) {
	thunk := l.Loader.Load(ctx, dataloader.StringKey(id.String()))
	data, err := thunk()
	if err != nil {
		return domain.StoredFilter{}, false, err
	}
	filter, ok := data.(domain.StoredFilter)
	if !ok {
		return domain.StoredFilter{}, false, nil
	}
	return filter, true, nil
}
