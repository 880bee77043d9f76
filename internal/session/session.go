// Package session caches the studies, biological entities, properties and
// annotations created while loading one datasource, so that the same logical
// entity is only ever represented by one object.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

// Session is a get-or-create cache. Every getter takes one session-wide lock,
// so two callers deriving the same identifier at once always share a single
// object. Sessions are safe for concurrent use.
type Session struct {
	id     string
	minter Minter
	log    *zap.Logger

	mu          sync.Mutex
	studies     map[string]*model.Study
	entities    map[string]*model.BiologicalEntity
	properties  map[string]*model.Property
	annotations map[string]*model.Annotation
	lastUsed    time.Time
}

// New creates an empty session minting URIs with m.
func New(m Minter) *Session {
	s := &Session{
		id:     uuid.New().String(),
		minter: m,
	}
	s.log = zap.L().With(zap.String("component", "session"), zap.String("session", s.id))
	s.reset()
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

func (s *Session) reset() {
	s.studies = make(map[string]*model.Study)
	s.entities = make(map[string]*model.BiologicalEntity)
	s.properties = make(map[string]*model.Property)
	s.annotations = make(map[string]*model.Annotation)
	s.lastUsed = time.Now()
}

// Clear empties all four caches at once. Only call it between independent
// loads.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.log.Debug("session: caches cleared")
}

// ClearIfIdle clears the caches when the session has not been used for d.
func (s *Session) ClearIfIdle(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.lastUsed) < d || s.size() == 0 {
		return false
	}
	s.log.Debug("session: clearing idle caches", zap.Duration("idle", time.Since(s.lastUsed)))
	s.reset()
	return true
}

// ExpireWhenIdle clears the caches each time the session has been idle for
// d, until ctx is done.
func (s *Session) ExpireWhenIdle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	ticker := time.NewTicker(d / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ClearIfIdle(d)
		}
	}
}

// Size returns the number of cached objects across all four caches.
func (s *Session) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size()
}

func (s *Session) size() int {
	return len(s.studies) + len(s.entities) + len(s.properties) + len(s.annotations)
}

// warnMissing records content fields that were empty when deriving an id.
func (s *Session) warnMissing(kind string, fields map[string]string) {
	for name, v := range fields {
		if v == "" {
			s.log.Warn("session: identifier derived with missing content",
				zap.String("kind", kind),
				zap.String("field", name),
			)
		}
	}
}

// StudyWithURI returns the study cached under uri, creating it if needed.
func (s *Session) StudyWithURI(accession, uri string, types []string) *model.Study {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.study(accession, uri, types)
}

// StudyWithID returns the study whose URI is minted from id.
func (s *Session) StudyWithID(accession, id string, types []string) *model.Study {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.study(accession, s.minter.StudyURI(id), types)
}

// Study returns the study identified by its accession.
func (s *Session) Study(accession string, types []string) *model.Study {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnMissing("study", map[string]string{"accession": accession})
	return s.study(accession, s.minter.StudyURI(ContentID(accession)), types)
}

func (s *Session) study(accession, uri string, types []string) *model.Study {
	s.lastUsed = time.Now()
	if st, ok := s.studies[uri]; ok {
		return st
	}
	if len(types) == 0 {
		types = []string{model.DefaultStudyType}
	}
	st := &model.Study{URI: uri, Accession: accession, Types: append([]string(nil), types...)}
	s.studies[uri] = st
	return st
}

// EntityWithURI returns the biological entity cached under uri, creating it
// if needed.
func (s *Session) EntityWithURI(name, uri string, typeNames, typeURIs []string, studies ...*model.Study) *model.BiologicalEntity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entity(name, uri, typeNames, typeURIs, studies)
}

// EntityWithID returns the biological entity whose URI is minted from id.
func (s *Session) EntityWithID(name, id string, typeNames, typeURIs []string, studies ...*model.Study) *model.BiologicalEntity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entity(name, s.minter.BiologicalEntityURI(id), typeNames, typeURIs, studies)
}

// Entity returns the biological entity identified by its name and the
// accessions of its studies.
func (s *Session) Entity(name string, typeNames, typeURIs []string, studies ...*model.Study) *model.BiologicalEntity {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.warnMissing("bioentity", map[string]string{"name": name})
	fields := make([]string, 0, len(studies)+1)
	for _, st := range studies {
		if st != nil {
			fields = append(fields, st.Accession)
		}
	}
	fields = append(fields, name)
	return s.entity(name, s.minter.BiologicalEntityURI(ContentID(fields...)), typeNames, typeURIs, studies)
}

func (s *Session) entity(name, uri string, typeNames, typeURIs []string, studies []*model.Study) *model.BiologicalEntity {
	s.lastUsed = time.Now()
	if be, ok := s.entities[uri]; ok {
		return be
	}

	var types []string
	switch {
	case len(typeURIs) > 0:
		types = append(types, typeURIs...)
	case len(typeNames) > 0:
		for _, n := range typeNames {
			types = append(types, s.minter.TypeURI(n))
		}
	default:
		types = []string{model.DefaultBioentityType}
	}

	be := &model.BiologicalEntity{URI: uri, Name: name, Types: types}
	for _, st := range studies {
		if st != nil {
			be.Studies = append(be.Studies, st)
		}
	}
	s.entities[uri] = be
	return be
}

// PropertyWithURI returns the property cached under uri, creating it if
// needed.
func (s *Session) PropertyWithURI(propertyType, value, uri string) *model.Property {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.property(NormalizePropertyType(propertyType), value, uri)
}

// PropertyWithID returns the property whose URI is minted from id.
func (s *Session) PropertyWithID(propertyType, value, id string) *model.Property {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.property(NormalizePropertyType(propertyType), value, s.minter.PropertyURI(id))
}

// Property returns the property identified by its normalized type and value.
// Untyped properties are identified by value alone.
func (s *Session) Property(propertyType, value string) *model.Property {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.warnMissing("property", map[string]string{"value": value})
	normalized := NormalizePropertyType(propertyType)
	var id string
	if normalized == "" {
		id = ContentID(value)
	} else {
		id = ContentID(normalized, value)
	}
	return s.property(normalized, value, s.minter.PropertyURI(id))
}

func (s *Session) property(normalizedType, value, uri string) *model.Property {
	s.lastUsed = time.Now()
	if p, ok := s.properties[uri]; ok {
		return p
	}
	p := &model.Property{URI: uri, Type: normalizedType, Value: value}
	s.properties[uri] = p
	return p
}

// AnnotationWithURI returns the annotation cached under uri, creating it if
// needed. A cached annotation absorbs the given entities and tags.
func (s *Session) AnnotationWithURI(p *model.Property, prov *model.Provenance, tags []string, uri string, entities ...*model.BiologicalEntity) *model.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.annotation(p, prov, tags, uri, entities)
}

// AnnotationWithID returns the annotation whose URI is minted from id.
func (s *Session) AnnotationWithID(p *model.Property, prov *model.Provenance, tags []string, id string, entities ...*model.BiologicalEntity) *model.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.annotation(p, prov, tags, s.minter.AnnotationURI(id), entities)
}

// Annotation returns the annotation identified by its full content: the
// entities, property, tags and provenance.
func (s *Session) Annotation(p *model.Property, prov *model.Provenance, tags []string, entities ...*model.BiologicalEntity) *model.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ContentID(annotationFields(p, prov, tags, entities)...)
	return s.annotation(p, prov, tags, s.minter.AnnotationURI(id), entities)
}

func annotationFields(p *model.Property, prov *model.Provenance, tags []string, entities []*model.BiologicalEntity) []string {
	var fields []string
	for _, be := range entities {
		if be == nil {
			continue
		}
		for _, st := range be.Studies {
			fields = append(fields, st.Accession)
		}
		fields = append(fields, be.Name)
		for _, t := range be.Types {
			fields = append(fields, model.ShortForm(t))
		}
	}

	if p != nil {
		fields = append(fields, p.Type, p.Value)
	} else {
		fields = append(fields, "", "")
	}

	for _, t := range tags {
		fields = append(fields, model.ShortForm(t))
	}

	if prov != nil {
		fields = append(fields,
			prov.Annotator,
			formatDate(prov.GeneratedDate),
			formatDate(prov.AnnotationDate),
			prov.Evidence.String(),
			prov.Source.URI,
		)
	} else {
		fields = append(fields, "", "", "", "", "")
	}
	return fields
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *Session) annotation(p *model.Property, prov *model.Provenance, tags []string, uri string, entities []*model.BiologicalEntity) *model.Annotation {
	s.lastUsed = time.Now()
	a, ok := s.annotations[uri]
	if !ok {
		a = &model.Annotation{URI: uri, Property: p, Provenance: prov}
		s.annotations[uri] = a
	}
	for _, be := range entities {
		a.AddBiologicalEntity(be)
	}
	for _, t := range tags {
		a.AddSemanticTag(t)
	}
	return a
}
