package resolve

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

// EntityStrategy finds stored annotations of the same biological entities.
type EntityStrategy struct {
	Store Store
}

// Name implements Strategy.
func (EntityStrategy) Name() string { return "bioentity" }

// Candidates implements Strategy.
func (s EntityStrategy) Candidates(ctx context.Context, a *model.Annotation) ([]*model.Annotation, error) {
	var out []*model.Annotation
	seen := make(map[string]bool)
	for _, be := range a.BiologicalEntities {
		ref, err := s.Store.GetBiologicalEntity(ctx, be.URI)
		if err != nil {
			return nil, eris.Wrapf(err, "resolve: read bioentity %s", be.URI)
		}
		if ref == nil {
			continue
		}
		found, err := s.Store.ReadByBiologicalEntity(ctx, ref.URI)
		if err != nil {
			return nil, eris.Wrapf(err, "resolve: annotations of bioentity %s", ref.URI)
		}
		out = appendNew(out, seen, found)
	}
	return out, nil
}

// TagStrategy finds stored annotations carrying the same semantic tags and
// coming from the same source.
type TagStrategy struct {
	Store Store
}

// Name implements Strategy.
func (TagStrategy) Name() string { return "semantictag" }

// Candidates implements Strategy.
func (s TagStrategy) Candidates(ctx context.Context, a *model.Annotation) ([]*model.Annotation, error) {
	var out []*model.Annotation
	seen := make(map[string]bool)
	for _, tag := range a.SemanticTags {
		found, err := s.Store.ReadBySemanticTag(ctx, tag)
		if err != nil {
			return nil, eris.Wrapf(err, "resolve: annotations of tag %s", tag)
		}
		var sameSource []*model.Annotation
		for _, c := range found {
			if sameSourceAs(a, c) {
				sameSource = append(sameSource, c)
			}
		}
		out = appendNew(out, seen, sameSource)
	}
	return out, nil
}

func sameSourceAs(a, b *model.Annotation) bool {
	if a.Provenance == nil || b.Provenance == nil {
		return a.Provenance == nil && b.Provenance == nil
	}
	return a.Provenance.Source.URI == b.Provenance.Source.URI &&
		a.Provenance.Source.Type == b.Provenance.Source.Type
}

func appendNew(out []*model.Annotation, seen map[string]bool, found []*model.Annotation) []*model.Annotation {
	for _, c := range found {
		if c == nil || seen[c.URI] {
			continue
		}
		seen[c.URI] = true
		out = append(out, c)
	}
	return out
}
