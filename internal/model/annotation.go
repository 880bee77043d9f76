// Package model defines the annotation domain: studies, biological entities,
// properties, provenance and the annotations that tie them to ontology terms.
package model

import "strings"

// Default types assigned when a source does not supply one.
const (
	DefaultStudyType      = "http://www.ebi.ac.uk/efo/EFO_0000001"
	DefaultBioentityType  = "http://purl.obolibrary.org/obo/OBI_0100026"
	UntypedPropertyMarker = "[UNTYPED]"
)

// LoadType tags what a receipt covers.
type LoadType string

// Load types.
const (
	LoadAll        LoadType = "LOAD_ALL"
	LoadDatasource LoadType = "LOAD_DATASOURCE"
	LoadDataItems  LoadType = "LOAD_DATAITEMS"
)

// Study groups biological entities under an accession.
type Study struct {
	URI       string   `json:"uri"`
	Accession string   `json:"accession"`
	Types     []string `json:"types"`
}

// BiologicalEntity is a named sample or assay within one or more studies.
type BiologicalEntity struct {
	URI     string   `json:"uri"`
	Name    string   `json:"name"`
	Studies []*Study `json:"studies,omitempty"`
	Types   []string `json:"types"`
}

// Property is a free-text type/value pair. An untyped property has an empty
// Type.
type Property struct {
	URI   string `json:"uri"`
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
}

// IsTyped reports whether the property carries a type.
func (p *Property) IsTyped() bool {
	return p != nil && p.Type != ""
}

// Annotation maps a property, in the context of some biological entities, to
// ontology terms. Updates never mutate an annotation's content; they create a
// new annotation linked through Replaces and ReplacedBy.
type Annotation struct {
	URI                string              `json:"uri"`
	Property           *Property           `json:"property"`
	BiologicalEntities []*BiologicalEntity `json:"biological_entities,omitempty"`
	SemanticTags       []string            `json:"semantic_tags,omitempty"`
	Provenance         *Provenance         `json:"provenance"`
	Replaces           []string            `json:"replaces,omitempty"`
	ReplacedBy         []string            `json:"replaced_by,omitempty"`
}

// AddBiologicalEntity appends be unless an entity with the same URI is
// already present.
func (a *Annotation) AddBiologicalEntity(be *BiologicalEntity) {
	if be == nil {
		return
	}
	for _, existing := range a.BiologicalEntities {
		if existing == be || existing.URI == be.URI {
			return
		}
	}
	a.BiologicalEntities = append(a.BiologicalEntities, be)
}

// AddSemanticTag appends tag unless already present. Empty tags are ignored.
func (a *Annotation) AddSemanticTag(tag string) {
	if tag == "" {
		return
	}
	for _, existing := range a.SemanticTags {
		if existing == tag {
			return
		}
	}
	a.SemanticTags = append(a.SemanticTags, tag)
}

// Clone returns a copy of a whose slices can be appended to without
// touching a. Entities, property and provenance are shared.
func (a *Annotation) Clone() *Annotation {
	out := *a
	out.BiologicalEntities = append([]*BiologicalEntity(nil), a.BiologicalEntities...)
	out.SemanticTags = append([]string(nil), a.SemanticTags...)
	out.Replaces = append([]string(nil), a.Replaces...)
	out.ReplacedBy = append([]string(nil), a.ReplacedBy...)
	return &out
}

// Quality is derived from provenance and is never stored as authoritative.
func (a *Annotation) Quality() float64 {
	return a.Provenance.Quality()
}

// ShortForm returns the fragment of a URI after the last '#' or '/'.
func ShortForm(uri string) string {
	if i := strings.LastIndexAny(uri, "#/"); i >= 0 && i < len(uri)-1 {
		return uri[i+1:]
	}
	return uri
}
