package resolve

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/workload"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeStore is an in-memory reference store.
type fakeStore struct {
	mu          sync.Mutex
	annotations map[string]*model.Annotation
	entities    map[string]*model.BiologicalEntity
	err         error
}

func newFakeStore(annotations ...*model.Annotation) *fakeStore {
	s := &fakeStore{
		annotations: map[string]*model.Annotation{},
		entities:    map[string]*model.BiologicalEntity{},
	}
	for _, a := range annotations {
		s.annotations[a.URI] = a
		for _, be := range a.BiologicalEntities {
			s.entities[be.URI] = be
		}
	}
	return s
}

func (s *fakeStore) GetAnnotation(_ context.Context, uri string) (*model.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.annotations[uri], nil
}

func (s *fakeStore) GetBiologicalEntity(_ context.Context, uri string) (*model.BiologicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entities[uri], nil
}

func (s *fakeStore) ReadByBiologicalEntity(_ context.Context, uri string) ([]*model.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Annotation
	for _, a := range s.annotations {
		for _, be := range a.BiologicalEntities {
			if be.URI == uri {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) ReadBySemanticTag(_ context.Context, tag string) ([]*model.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Annotation
	for _, a := range s.annotations {
		for _, t := range a.SemanticTags {
			if t == tag {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

var (
	study   = &model.Study{URI: "http://x/study/1", Accession: "E-MTAB-1"}
	sample1 = &model.BiologicalEntity{URI: "http://x/be/1", Name: "sample1", Studies: []*model.Study{study}}
	source  = model.Source{URI: "http://www.ebi.ac.uk/arrayexpress", Type: model.SourceDatabase}
	human   = "http://purl.obolibrary.org/obo/NCBITaxon_9606"
	mouse   = "http://purl.obolibrary.org/obo/NCBITaxon_10090"
)

func ann(uri, typ, value string, tags []string, entities ...*model.BiologicalEntity) *model.Annotation {
	return &model.Annotation{
		URI:                uri,
		Property:           &model.Property{Type: typ, Value: value},
		BiologicalEntities: entities,
		SemanticTags:       tags,
		Provenance: &model.Provenance{
			Source:        source,
			Evidence:      model.EvidenceSubmitterProvided,
			GeneratedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		name string
		p    *model.Property
		want string
	}{
		{"case", &model.Property{Type: "Organism"}, "organism"},
		{"underscore", &model.Property{Type: "organism_part"}, "organism part"},
		{"whitespace", &model.Property{Type: "  Organism   Part "}, "organism part"},
		{"untyped", &model.Property{Value: "liver"}, model.UntypedPropertyMarker},
		{"blank type", &model.Property{Type: " _ "}, model.UntypedPropertyMarker},
		{"nil", nil, model.UntypedPropertyMarker},
		{"marker text is still typed", &model.Property{Type: "[UNTYPED]"}, "[untyped]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeType(tt.p))
		})
	}
}

func TestEntityResolver_FindModified(t *testing.T) {
	ctx := context.Background()
	stored := ann("http://x/a/old", "Organism", "homo sapiens", []string{human}, sample1)
	storedOther := ann("http://x/a/part", "organism part", "liver", nil, sample1)
	untypedRef := ann("http://x/a/u", "", "liver", nil, sample1)

	tests := []struct {
		name      string
		reference []*model.Annotation
		incoming  *model.Annotation
		want      *model.Annotation
	}{
		{
			name:      "exactly one shares normalized type",
			reference: []*model.Annotation{stored, storedOther},
			incoming:  ann("http://x/a/new", "organism", "Homo sapiens", nil, sample1),
			want:      stored,
		},
		{
			name:      "none shares type",
			reference: []*model.Annotation{storedOther},
			incoming:  ann("http://x/a/new", "organism", "Homo sapiens", nil, sample1),
			want:      nil,
		},
		{
			name: "two share type is ambiguous",
			reference: []*model.Annotation{
				stored,
				ann("http://x/a/old2", "ORGANISM", "human", nil, sample1),
			},
			incoming: ann("http://x/a/new", "organism", "Homo sapiens", nil, sample1),
			want:     nil,
		},
		{
			name:      "unknown entity has no context",
			reference: []*model.Annotation{stored},
			incoming: ann("http://x/a/new", "organism", "Homo sapiens", nil,
				&model.BiologicalEntity{URI: "http://x/be/unknown", Name: "other"}),
			want: nil,
		},
		{
			name:      "typed never matches untyped",
			reference: []*model.Annotation{stored},
			incoming:  ann("http://x/a/new", "", "Homo sapiens", nil, sample1),
			want:      nil,
		},
		{
			name:      "untyped matches untyped",
			reference: []*model.Annotation{untypedRef},
			incoming:  ann("http://x/a/new", "", "hepatic tissue", nil, sample1),
			want:      untypedRef,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewEntityResolver(newFakeStore(tt.reference...))
			got, err := r.FindModified(ctx, tt.incoming)
			require.NoError(t, err)
			assert.Same(t, tt.want, got)

			modified, err := r.WasModified(ctx, tt.incoming)
			require.NoError(t, err)
			assert.Equal(t, tt.want != nil, modified)
		})
	}
}

func TestTagResolver_SameSourceOnly(t *testing.T) {
	ctx := context.Background()
	stored := ann("http://x/a/old", "organism", "homo sapiens", []string{human})
	foreign := ann("http://x/a/foreign", "organism", "human", []string{human})
	foreign.Provenance = &model.Provenance{Source: model.Source{URI: "http://www.uniprot.org", Type: model.SourceDatabase}}

	r := NewTagResolver(newFakeStore(stored, foreign))
	got, err := r.FindModified(ctx, ann("http://x/a/new", "Organism", "Homo sapiens", []string{human}))
	require.NoError(t, err)
	assert.Same(t, stored, got)

	got, err = r.FindModified(ctx, ann("http://x/a/new", "organism", "Mus musculus", []string{mouse}))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolve_NewAnnotationLinksPrior(t *testing.T) {
	ctx := context.Background()
	prior := ann("http://x/a/old", "organism", "homo sapiens", []string{human}, sample1)
	r := NewEntityResolver(newFakeStore(prior))

	incoming := ann("http://x/a/new", "organism", "Homo sapiens", []string{human}, sample1)
	got, err := r.Resolve(ctx, incoming)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotSame(t, incoming, got)
	assert.Equal(t, incoming.URI, got.URI)
	assert.Equal(t, []string{"http://x/a/old"}, got.Replaces)
	assert.Empty(t, incoming.Replaces, "incoming annotation is not mutated")
	assert.Empty(t, prior.ReplacedBy, "stored annotation is not mutated")
}

func TestResolve_ExistingUnchangedIsDropped(t *testing.T) {
	ctx := context.Background()
	stored := ann("http://x/a/1", "organism", "Homo sapiens", []string{human}, sample1)
	r := NewEntityResolver(newFakeStore(stored))

	got, err := r.Resolve(ctx, ann("http://x/a/1", "Organism", "Homo sapiens", []string{human}, sample1))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolve_ExistingChangedGetsReplacement(t *testing.T) {
	ctx := context.Background()
	stored := ann("http://x/a/1", "organism", "Homo sapiens", []string{human}, sample1)
	taken := ann("http://x/a/1_1", "organism", "Homo sapiens", []string{human}, sample1)
	r := NewEntityResolver(newFakeStore(stored, taken))

	incoming := ann("http://x/a/1", "organism", "Homo sapiens", []string{mouse}, sample1)
	got, err := r.Resolve(ctx, incoming)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "http://x/a/1_2", got.URI)
	assert.Equal(t, []string{"http://x/a/1"}, got.Replaces)
	assert.Equal(t, []string{mouse}, got.SemanticTags)
	assert.Empty(t, stored.ReplacedBy)
	assert.Equal(t, "http://x/a/1", incoming.URI, "incoming annotation is not mutated")
}

func TestResolve_StoreError(t *testing.T) {
	s := newFakeStore()
	s.err = errors.New("connection refused")
	r := NewEntityResolver(s)

	_, err := r.Resolve(context.Background(), ann("http://x/a/1", "organism", "x", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIncrementURI(t *testing.T) {
	tests := []struct{ original, current, want string }{
		{"http://x/a/abc", "http://x/a/abc", "http://x/a/abc_1"},
		{"http://x/a/abc", "http://x/a/abc_1", "http://x/a/abc_2"},
		{"http://x/a/abc_5", "http://x/a/abc_5", "http://x/a/abc_6"},
		{"http://x/a/a_b", "http://x/a/a_b", "http://x/a/a_b_1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, incrementURI(tt.original, tt.current))
	}
}

func TestFilter_KeepsTagged(t *testing.T) {
	r := NewEntityResolver(newFakeStore())
	tagged := ann("http://x/a/1", "organism", "x", []string{human})
	untagged := ann("http://x/a/2", "organism", "y", nil)

	out := r.Filter([]*model.Annotation{tagged, untagged, nil})
	assert.Equal(t, []*model.Annotation{tagged}, out)
}

func TestClassify(t *testing.T) {
	base := ann("http://x/a/1", "organism", "Homo sapiens", []string{human}, sample1)

	tests := []struct {
		name   string
		mutate func(a *model.Annotation)
		want   Modification
	}{
		{"identical", func(*model.Annotation) {}, NoModification},
		{"type case only", func(a *model.Annotation) { a.Property = &model.Property{Type: "ORGANISM", Value: "Homo sapiens"} }, NoModification},
		{"type", func(a *model.Annotation) { a.Property = &model.Property{Type: "species", Value: "Homo sapiens"} }, PropertyTypeChanged},
		{"value", func(a *model.Annotation) { a.Property = &model.Property{Type: "organism", Value: "human"} }, PropertyValueChanged},
		{"entity", func(a *model.Annotation) {
			a.BiologicalEntities = []*model.BiologicalEntity{{URI: "http://x/be/2", Name: "sample2", Studies: []*model.Study{study}}}
		}, BiologicalEntityChanged},
		{"tag", func(a *model.Annotation) { a.SemanticTags = []string{mouse} }, SemanticTagChanged},
		{"tag order ignored", func(a *model.Annotation) { a.SemanticTags = []string{human, human} }, NoModification},
		{"provenance", func(a *model.Annotation) {
			p := *a.Provenance
			p.Evidence = model.EvidenceManualCurated
			a.Provenance = &p
		}, ProvenanceChanged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := ann(base.URI, base.Property.Type, base.Property.Value, base.SemanticTags, sample1)
			tt.mutate(other)
			got := Classify(other, base)
			assert.Equal(t, tt.want, got, got.String())
		})
	}
	assert.Equal(t, "NO_MODIFICATION", NoModification.String())
	assert.Equal(t, "SEMANTIC_TAG", SemanticTagChanged.String())
}

func TestResolveAll(t *testing.T) {
	ctx := context.Background()
	stored := ann("http://x/a/1", "organism", "Homo sapiens", []string{human}, sample1)
	r := NewEntityResolver(newFakeStore(stored))
	pool := workload.NewPool("resolve", 4)

	fresh := ann("http://x/a/2", "organism part", "liver", []string{"http://purl.obolibrary.org/obo/UBERON_0002107"}, sample1)
	duplicate := ann("http://x/a/1", "organism", "Homo sapiens", []string{human}, sample1)

	out, err := ResolveAll(ctx, r, pool, "arrayexpress", []*model.Annotation{duplicate, fresh})
	require.NoError(t, err)
	assert.Equal(t, []*model.Annotation{fresh}, out)

	out, err = ResolveAll(ctx, r, pool, "arrayexpress", nil)
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestResolveAll_SameAnnotationTwice(t *testing.T) {
	ctx := context.Background()
	prior := ann("http://x/a/old", "organism", "homo sapiens", []string{human}, sample1)
	r := NewEntityResolver(newFakeStore(prior))
	pool := workload.NewPool("resolve", 4)

	a := ann("http://x/a/new", "organism", "Homo sapiens", []string{human}, sample1)
	copyOfA := ann("http://x/a/new", "organism", "Homo sapiens", []string{human}, sample1)

	out, err := ResolveAll(ctx, r, pool, "arrayexpress", []*model.Annotation{a, a, copyOfA, nil})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "http://x/a/new", out[0].URI)
	assert.Equal(t, []string{"http://x/a/old"}, out[0].Replaces)
	assert.Empty(t, a.Replaces)
	assert.Empty(t, prior.ReplacedBy)
}

func TestResolveAll_CancelledContextWaitsForIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewEntityResolver(newFakeStore())
	pool := workload.NewPool("resolve", 2)

	batch := []*model.Annotation{
		ann("http://x/a/1", "organism", "Homo sapiens", []string{human}, sample1),
		ann("http://x/a/2", "organism part", "liver", []string{human}, sample1),
	}
	out, err := ResolveAll(ctx, r, pool, "arrayexpress", batch)
	require.NoError(t, err)
	assert.Equal(t, batch, out)
}

func TestResolveAll_ReportsFailure(t *testing.T) {
	s := newFakeStore()
	s.err = errors.New("timeout")
	r := NewEntityResolver(s)

	_, err := ResolveAll(context.Background(), r, workload.NewPool("resolve", 2), "broken",
		[]*model.Annotation{ann("http://x/a/1", "organism", "x", nil)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}
