package store

import (
	"context"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

// sourcePageSize bounds each read when a store is drained as a datasource.
const sourcePageSize = 10000

// Source exposes the current annotations of a store as a paged datasource,
// so one store can be mirrored into another.
type Source struct {
	name  string
	store Store
}

// AsDatasource wraps s under name.
func AsDatasource(s Store, name string) *Source {
	return &Source{name: name, store: s}
}

func (s *Source) Name() string { return s.name }

// Read drains the store page by page.
func (s *Source) Read(ctx context.Context) ([]*model.Annotation, error) {
	var out []*model.Annotation
	for start := 0; ; start += sourcePageSize {
		page, err := s.store.ReadPage(ctx, sourcePageSize, start)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < sourcePageSize {
			return out, nil
		}
	}
}

func (s *Source) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

func (s *Source) ReadPage(ctx context.Context, size, start int) ([]*model.Annotation, error) {
	return s.store.ReadPage(ctx, size, start)
}
