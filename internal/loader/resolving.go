package loader

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/resolve"
	"github.com/EBISPOT/zooma-sub003/internal/workload"
)

// UpdateDatasource names batches produced by Update.
const UpdateDatasource = "update"

// ResolvingLoader resolves annotations against the store before passing
// new or changed ones to the next loader.
type ResolvingLoader struct {
	next     Loader
	resolver resolve.Resolver
	pool     *workload.Pool
	log      *zap.Logger
}

// NewResolving creates a ResolvingLoader. pool runs resolutions and must not
// be the pool the loads themselves run on.
func NewResolving(next Loader, r resolve.Resolver, pool *workload.Pool) *ResolvingLoader {
	return &ResolvingLoader{
		next:     next,
		resolver: r,
		pool:     pool,
		log:      zap.L().With(zap.String("component", "loader")),
	}
}

// Load implements Loader.
func (l *ResolvingLoader) Load(ctx context.Context, datasource string, annotations []*model.Annotation) error {
	kept, err := l.resolve(ctx, datasource, annotations)
	if err != nil {
		return Failed(datasource, err)
	}
	if len(kept) == 0 {
		return nil
	}
	if err := l.next.Load(ctx, datasource, kept); err != nil {
		return Failed(datasource, err)
	}
	return nil
}

// LoadOne implements Loader.
func (l *ResolvingLoader) LoadOne(ctx context.Context, a *model.Annotation) error {
	resolved, err := l.resolver.Resolve(ctx, a)
	if err != nil {
		return Failed(a.URI, err)
	}
	kept := l.resolver.Filter([]*model.Annotation{resolved})
	if len(kept) == 0 {
		return nil
	}
	if err := l.next.LoadOne(ctx, kept[0]); err != nil {
		return Failed(a.URI, err)
	}
	return nil
}

// Update implements Loader. Updated annotations are resolved like any
// other load, so each becomes a new version replacing the stored one.
func (l *ResolvingLoader) Update(ctx context.Context, annotations []*model.Annotation, u Update) error {
	updated := make([]*model.Annotation, 0, len(annotations))
	for _, a := range annotations {
		updated = append(updated, u.Apply(a))
	}
	return l.Load(ctx, UpdateDatasource, updated)
}

// LoadSupplementary implements Loader.
func (l *ResolvingLoader) LoadSupplementary(ctx context.Context, datasource string, r io.Reader) error {
	if err := l.next.LoadSupplementary(ctx, datasource, r); err != nil {
		return Failed(datasource, err)
	}
	return nil
}

func (l *ResolvingLoader) resolve(ctx context.Context, datasource string, annotations []*model.Annotation) ([]*model.Annotation, error) {
	resolved, err := resolve.ResolveAll(ctx, l.resolver, l.pool, datasource, annotations)
	if err != nil {
		return nil, err
	}
	kept := l.resolver.Filter(resolved)
	if dropped := len(annotations) - len(kept); dropped > 0 {
		l.log.Debug("loader: dropped unchanged or untagged annotations",
			zap.String("datasource", datasource),
			zap.Int("dropped", dropped),
			zap.Int("kept", len(kept)),
		)
	}
	return kept, nil
}
