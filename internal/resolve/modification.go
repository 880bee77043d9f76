package resolve

import (
	"sort"
	"strings"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

// Modification names the first difference found between two versions of an
// annotation.
type Modification int

// Modifications, in the order they are checked.
const (
	NoModification Modification = iota
	PropertyTypeChanged
	PropertyValueChanged
	BiologicalEntityChanged
	SemanticTagChanged
	ProvenanceChanged
)

func (m Modification) String() string {
	switch m {
	case PropertyTypeChanged:
		return "PROPERTY_TYPE"
	case PropertyValueChanged:
		return "PROPERTY_VALUE"
	case BiologicalEntityChanged:
		return "BIOLOGICAL_ENTITY"
	case SemanticTagChanged:
		return "SEMANTIC_TAG"
	case ProvenanceChanged:
		return "PROVENANCE"
	default:
		return "NO_MODIFICATION"
	}
}

// Classify compares an incoming annotation with the stored one.
func Classify(incoming, stored *model.Annotation) Modification {
	if NormalizeType(incoming.Property) != NormalizeType(stored.Property) {
		return PropertyTypeChanged
	}
	if propertyValue(incoming) != propertyValue(stored) {
		return PropertyValueChanged
	}
	if !sameStrings(entityKeys(incoming), entityKeys(stored)) {
		return BiologicalEntityChanged
	}
	if !sameStrings(incoming.SemanticTags, stored.SemanticTags) {
		return SemanticTagChanged
	}
	if !sameProvenance(incoming.Provenance, stored.Provenance) {
		return ProvenanceChanged
	}
	return NoModification
}

func propertyValue(a *model.Annotation) string {
	if a.Property == nil {
		return ""
	}
	return a.Property.Value
}

// entityKeys identifies entities by "accession|name" pairs.
func entityKeys(a *model.Annotation) []string {
	var keys []string
	for _, be := range a.BiologicalEntities {
		if len(be.Studies) == 0 {
			keys = append(keys, "|"+be.Name)
			continue
		}
		for _, st := range be.Studies {
			keys = append(keys, st.Accession+"|"+be.Name)
		}
	}
	return keys
}

func sameStrings(a, b []string) bool {
	set := func(in []string) []string {
		seen := make(map[string]bool, len(in))
		var out []string
		for _, s := range in {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
		sort.Strings(out)
		return out
	}
	return strings.Join(set(a), "\n") == strings.Join(set(b), "\n")
}

func sameProvenance(a, b *model.Provenance) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Source.URI == b.Source.URI &&
		a.Evidence == b.Evidence &&
		a.Accuracy == b.Accuracy &&
		a.Annotator == b.Annotator &&
		a.AnnotationDate.Equal(b.AnnotationDate)
}
