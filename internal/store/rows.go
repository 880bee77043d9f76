package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/receipt"
)

// defaultSearchLimit caps Search when no limit is given.
const defaultSearchLimit = 100

// batchRows holds one load, flattened into rows per table.
type batchRows struct {
	annotations  [][]any // uri, datasource, property_type, property_value, doc, loaded_at
	tags         [][]any // annotation_uri, tag
	links        [][]any // annotation_uri, entity_uri
	entities     [][]any // uri, name, doc
	replacements [][]any // uri, replaced_by
}

var (
	annotationColumns  = []string{"uri", "datasource", "property_type", "property_value", "doc", "loaded_at"}
	tagColumns         = []string{"annotation_uri", "tag"}
	linkColumns        = []string{"annotation_uri", "entity_uri"}
	entityColumns      = []string{"uri", "name", "doc"}
	replacementColumns = []string{"uri", "replaced_by"}
)

// flatten turns annotations into table rows, one per URI with the last
// occurrence winning. Version links are recorded in both directions: every
// URI an annotation replaces gets a replacement row, and so does every known
// successor.
func flatten(datasource string, annotations []*model.Annotation) (*batchRows, error) {
	now := time.Now().UTC()
	b := &batchRows{}
	seenEntity := make(map[string]bool)

	for _, a := range lastPerURI(annotations) {
		doc, err := encodeAnnotation(a)
		if err != nil {
			return nil, err
		}
		var ptype, pvalue string
		if a.Property != nil {
			ptype, pvalue = a.Property.Type, a.Property.Value
		}
		b.annotations = append(b.annotations, []any{a.URI, datasource, ptype, pvalue, doc, now})

		for _, t := range a.SemanticTags {
			b.tags = append(b.tags, []any{a.URI, t})
		}
		for _, be := range a.BiologicalEntities {
			b.links = append(b.links, []any{a.URI, be.URI})
			if seenEntity[be.URI] {
				continue
			}
			seenEntity[be.URI] = true
			entityDoc, err := json.Marshal(be)
			if err != nil {
				return nil, eris.Wrapf(err, "store: encode bioentity %s", be.URI)
			}
			b.entities = append(b.entities, []any{be.URI, be.Name, string(entityDoc)})
		}
		for _, old := range a.Replaces {
			b.replacements = append(b.replacements, []any{old, a.URI})
		}
		for _, next := range a.ReplacedBy {
			b.replacements = append(b.replacements, []any{a.URI, next})
		}
	}
	return b, nil
}

func lastPerURI(annotations []*model.Annotation) []*model.Annotation {
	last := make(map[string]int, len(annotations))
	for i, a := range annotations {
		if a != nil {
			last[a.URI] = i
		}
	}
	out := make([]*model.Annotation, 0, len(last))
	for i, a := range annotations {
		if a != nil && last[a.URI] == i {
			out = append(out, a)
		}
	}
	return out
}

// encodeAnnotation stores everything but ReplacedBy, which lives in its own
// table because it grows after the annotation is written.
func encodeAnnotation(a *model.Annotation) (string, error) {
	doc := *a
	doc.ReplacedBy = nil
	data, err := json.Marshal(&doc)
	if err != nil {
		return "", eris.Wrapf(err, "store: encode annotation %s", a.URI)
	}
	return string(data), nil
}

func decodeAnnotation(doc []byte) (*model.Annotation, error) {
	var a model.Annotation
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, eris.Wrap(err, "store: decode annotation")
	}
	return &a, nil
}

func decodeEntity(doc []byte) (*model.BiologicalEntity, error) {
	var be model.BiologicalEntity
	if err := json.Unmarshal(doc, &be); err != nil {
		return nil, eris.Wrap(err, "store: decode bioentity")
	}
	return &be, nil
}

// searchTerms splits a query into lower-cased LIKE patterns.
func searchTerms(query string) []string {
	var terms []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if seen[w] {
			continue
		}
		seen[w] = true
		w = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(w)
		terms = append(terms, "%"+w+"%")
	}
	return terms
}

// receiptRowID keys a receipt outcome so saving it twice updates one row.
func receiptRowID(st receipt.Status) string {
	key := st.ID + "@" + st.Submitted.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}
