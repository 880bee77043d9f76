package session

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

// ErrInvalidRecord is returned for records that cannot be turned into an
// annotation.
var ErrInvalidRecord = eris.New("session: invalid annotation record")

// ProvenanceTemplate holds the provenance shared by every annotation a
// datasource produces.
type ProvenanceTemplate struct {
	Source    model.Source   `yaml:"source"`
	Evidence  model.Evidence `yaml:"evidence"`
	Accuracy  model.Accuracy `yaml:"accuracy"`
	Generator string         `yaml:"generator"`
}

// Record is one row of annotation input. Empty fields are absent. Explicit
// URIs take precedence over explicit ids, which take precedence over ids
// derived from content.
type Record struct {
	AnnotationURI string
	AnnotationID  string

	StudyAccession string
	StudyURI       string
	StudyID        string
	StudyType      string

	BioentityName     string
	BioentityURI      string
	BioentityID       string
	BioentityTypeName string
	BioentityTypeURI  string

	PropertyType  string
	PropertyValue string
	PropertyURI   string
	PropertyID    string

	SemanticTags   []string
	Annotator      string
	AnnotationDate time.Time
}

// Factory builds annotations from records through a session, so repeated
// records resolve to the same objects.
type Factory struct {
	session   *Session
	template  ProvenanceTemplate
	generated time.Time
}

// NewFactory creates a factory. Every annotation it creates shares one
// generation time, fixed here, so the same record always maps to the same
// annotation.
func NewFactory(s *Session, tmpl ProvenanceTemplate) *Factory {
	return &Factory{session: s, template: tmpl, generated: time.Now().UTC().Truncate(time.Second)}
}

// Session returns the factory's session.
func (f *Factory) Session() *Session { return f.session }

// Create builds one annotation per semantic tag in rec, or a single untagged
// annotation when rec has none.
func (f *Factory) Create(rec Record) ([]*model.Annotation, error) {
	if rec.PropertyValue == "" {
		return nil, eris.Wrap(ErrInvalidRecord, "session: record has no property value")
	}
	if rec.Annotator != "" && rec.AnnotationDate.IsZero() {
		return nil, eris.Wrapf(ErrInvalidRecord, "session: annotator %q supplied without an annotation date", rec.Annotator)
	}

	s := f.session

	var studyTypes []string
	if rec.StudyType != "" {
		studyTypes = []string{rec.StudyType}
	}
	var study *model.Study
	switch {
	case rec.StudyURI != "":
		study = s.StudyWithURI(rec.StudyAccession, rec.StudyURI, studyTypes)
	case rec.StudyID != "":
		study = s.StudyWithID(rec.StudyAccession, rec.StudyID, studyTypes)
	case rec.StudyAccession != "":
		study = s.Study(rec.StudyAccession, studyTypes)
	}

	var typeNames, typeURIs []string
	if rec.BioentityTypeName != "" {
		typeNames = []string{rec.BioentityTypeName}
	}
	if rec.BioentityTypeURI != "" {
		typeURIs = []string{rec.BioentityTypeURI}
	}
	var studies []*model.Study
	if study != nil {
		studies = append(studies, study)
	}
	var entity *model.BiologicalEntity
	switch {
	case rec.BioentityURI != "":
		entity = s.EntityWithURI(rec.BioentityName, rec.BioentityURI, typeNames, typeURIs, studies...)
	case rec.BioentityID != "":
		entity = s.EntityWithID(rec.BioentityName, rec.BioentityID, typeNames, typeURIs, studies...)
	case rec.BioentityName != "":
		entity = s.Entity(rec.BioentityName, typeNames, typeURIs, studies...)
	}

	var prop *model.Property
	switch {
	case rec.PropertyURI != "":
		prop = s.PropertyWithURI(rec.PropertyType, rec.PropertyValue, rec.PropertyURI)
	case rec.PropertyID != "":
		prop = s.PropertyWithID(rec.PropertyType, rec.PropertyValue, rec.PropertyID)
	default:
		prop = s.Property(rec.PropertyType, rec.PropertyValue)
	}

	var entities []*model.BiologicalEntity
	if entity != nil {
		entities = append(entities, entity)
	}

	tags := rec.SemanticTags
	if len(tags) == 0 {
		tags = []string{""}
	}
	out := make([]*model.Annotation, 0, len(tags))
	for _, tag := range tags {
		var tagList []string
		if tag != "" {
			tagList = []string{tag}
		}
		prov := f.provenance(rec)
		var a *model.Annotation
		switch {
		case rec.AnnotationURI != "":
			a = s.AnnotationWithURI(prop, prov, tagList, rec.AnnotationURI, entities...)
		case rec.AnnotationID != "":
			a = s.AnnotationWithID(prop, prov, tagList, rec.AnnotationID, entities...)
		default:
			a = s.Annotation(prop, prov, tagList, entities...)
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *Factory) provenance(rec Record) *model.Provenance {
	p := &model.Provenance{
		Source:        f.template.Source,
		Evidence:      f.template.Evidence,
		Accuracy:      f.template.Accuracy,
		Generator:     f.template.Generator,
		GeneratedDate: f.generated,
	}
	if rec.Annotator != "" {
		p.Annotator = rec.Annotator
		p.AnnotationDate = rec.AnnotationDate.UTC()
	}
	return p
}
