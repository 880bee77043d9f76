package resolve

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/workload"
)

// ResolveAll resolves a batch on pool, one iteration per distinct annotation
// URI; later entries with an already seen URI are dropped. The result keeps
// input order and drops annotations that resolved to nil. The first
// resolution failure is returned after every annotation has been tried.
// Iterations always run to completion, so a cancelled ctx does not cut the
// wait short.
func ResolveAll(ctx context.Context, r Resolver, pool *workload.Pool, name string, annotations []*model.Annotation) ([]*model.Annotation, error) {
	batch := distinct(annotations)
	if len(batch) == 0 {
		return nil, nil
	}

	resolved := make([]*model.Annotation, len(batch))
	sched := workload.NewScheduler(pool, len(batch), fmt.Sprintf("resolve %s", name),
		func(ctx context.Context, i int) error {
			a, err := r.Resolve(ctx, batch[i-1])
			if err != nil {
				return err
			}
			resolved[i-1] = a
			return nil
		})
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	err := sched.Wait(context.WithoutCancel(ctx))

	out := make([]*model.Annotation, 0, len(resolved))
	for _, a := range resolved {
		if a != nil {
			out = append(out, a)
		}
	}
	zap.L().Debug("resolve: batch resolved",
		zap.String("datasource", name),
		zap.Int("input", len(annotations)),
		zap.Int("distinct", len(batch)),
		zap.Int("kept", len(out)),
	)
	return out, err
}

// distinct keeps the first annotation per URI and skips nils.
func distinct(annotations []*model.Annotation) []*model.Annotation {
	seen := make(map[string]bool, len(annotations))
	out := make([]*model.Annotation, 0, len(annotations))
	for _, a := range annotations {
		if a == nil || seen[a.URI] {
			continue
		}
		seen[a.URI] = true
		out = append(out, a)
	}
	return out
}
