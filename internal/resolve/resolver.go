package resolve

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

// Store is the read side of the reference annotation store. Lookups of
// missing URIs return nil without an error.
type Store interface {
	GetAnnotation(ctx context.Context, uri string) (*model.Annotation, error)
	GetBiologicalEntity(ctx context.Context, uri string) (*model.BiologicalEntity, error)
	ReadByBiologicalEntity(ctx context.Context, entityURI string) ([]*model.Annotation, error)
	ReadBySemanticTag(ctx context.Context, tag string) ([]*model.Annotation, error)
}

// Resolver decides whether annotations are new, updated or duplicates.
type Resolver interface {
	// Resolve returns the annotation to keep: a itself, a copy of a linked
	// to the version it modifies, a replacement when a changed copy of a is
	// already stored, or nil when an identical copy is stored.
	Resolve(ctx context.Context, a *model.Annotation) (*model.Annotation, error)
	// FindModified returns the single stored annotation that a modifies,
	// or nil.
	FindModified(ctx context.Context, a *model.Annotation) (*model.Annotation, error)
	WasModified(ctx context.Context, a *model.Annotation) (bool, error)
	// Filter drops annotations that cannot be stored.
	Filter(annotations []*model.Annotation) []*model.Annotation
}

// Strategy selects the stored annotations that share context with a.
type Strategy interface {
	Name() string
	Candidates(ctx context.Context, a *model.Annotation) ([]*model.Annotation, error)
}

// ContextResolver matches annotations on normalized property type within
// the context chosen by its strategy.
type ContextResolver struct {
	strategy Strategy
	store    Store
	log      *zap.Logger
}

// New creates a resolver using strategy to find candidates in store.
func New(strategy Strategy, store Store) *ContextResolver {
	return &ContextResolver{
		strategy: strategy,
		store:    store,
		log:      zap.L().With(zap.String("component", "resolve"), zap.String("strategy", strategy.Name())),
	}
}

// NewEntityResolver matches within shared biological entities.
func NewEntityResolver(store Store) *ContextResolver {
	return New(EntityStrategy{Store: store}, store)
}

// NewTagResolver matches within shared semantic tags from the same source.
func NewTagResolver(store Store) *ContextResolver {
	return New(TagStrategy{Store: store}, store)
}

// Resolve implements Resolver.
func (r *ContextResolver) Resolve(ctx context.Context, a *model.Annotation) (*model.Annotation, error) {
	stored, err := r.store.GetAnnotation(ctx, a.URI)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: read %s", a.URI)
	}

	if stored != nil {
		mod := Classify(a, stored)
		if mod == NoModification {
			r.log.Debug("resolve: annotation exists unchanged", zap.String("uri", a.URI))
			return nil, nil
		}
		uri, err := r.nextURI(ctx, a.URI)
		if err != nil {
			return nil, err
		}
		r.log.Debug("resolve: annotation updated",
			zap.String("uri", a.URI),
			zap.String("replacement", uri),
			zap.Stringer("modification", mod),
		)
		return replacement(a, uri, stored), nil
	}

	prior, err := r.FindModified(ctx, a)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return a, nil
	}
	r.log.Debug("resolve: annotation modifies stored version",
		zap.String("uri", a.URI),
		zap.String("prior", prior.URI),
	)
	return linked(a, prior), nil
}

// FindModified implements Resolver. Zero or several candidates of the same
// normalized type both count as no match.
func (r *ContextResolver) FindModified(ctx context.Context, a *model.Annotation) (*model.Annotation, error) {
	candidates, err := r.strategy.Candidates(ctx, a)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: %s candidates for %s", r.strategy.Name(), a.URI)
	}

	want := NormalizeType(a.Property)
	var match *model.Annotation
	matches := 0
	for _, c := range candidates {
		if c.URI == a.URI {
			continue
		}
		if NormalizeType(c.Property) == want {
			match = c
			matches++
		}
	}

	switch matches {
	case 1:
		return match, nil
	case 0:
		return nil, nil
	default:
		r.log.Debug("resolve: ambiguous context, treating as new",
			zap.String("uri", a.URI),
			zap.Int("matches", matches),
		)
		return nil, nil
	}
}

// WasModified implements Resolver.
func (r *ContextResolver) WasModified(ctx context.Context, a *model.Annotation) (bool, error) {
	prior, err := r.FindModified(ctx, a)
	return prior != nil, err
}

// Filter implements Resolver. Only annotations mapped to at least one
// semantic tag are kept.
func (r *ContextResolver) Filter(annotations []*model.Annotation) []*model.Annotation {
	out := make([]*model.Annotation, 0, len(annotations))
	for _, a := range annotations {
		if a != nil && len(a.SemanticTags) > 0 {
			out = append(out, a)
		}
	}
	return out
}

// nextURI finds the first unused increment of uri: "<uri>_1", "<uri>_2" ...
func (r *ContextResolver) nextURI(ctx context.Context, uri string) (string, error) {
	candidate := uri
	for {
		existing, err := r.store.GetAnnotation(ctx, candidate)
		if err != nil {
			return "", eris.Wrapf(err, "resolve: read %s", candidate)
		}
		if existing == nil {
			return candidate, nil
		}
		candidate = incrementURI(uri, candidate)
	}
}

func incrementURI(original, current string) string {
	i := strings.LastIndex(current, "_")
	if i < 0 {
		return original + "_1"
	}
	n, err := strconv.Atoi(current[i+1:])
	if err != nil {
		return original + "_1"
	}
	return current[:i] + "_" + strconv.Itoa(n+1)
}

// replacement copies a under a new URI that replaces the stored version.
// The stored side of the link is written from Replaces when the copy is
// loaded.
func replacement(a *model.Annotation, uri string, stored *model.Annotation) *model.Annotation {
	out := a.Clone()
	out.URI = uri
	out.Replaces = []string{stored.URI}
	out.ReplacedBy = nil
	return out
}

// linked returns a copy of next that replaces prev. Neither argument is
// modified; annotations may be shared with a session cache.
func linked(next, prev *model.Annotation) *model.Annotation {
	out := next.Clone()
	out.Replaces = appendUnique(out.Replaces, prev.URI)
	return out
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
