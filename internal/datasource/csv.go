package datasource

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/session"
)

// Column names recognised in a delimited annotation file.
const (
	ColStudy             = "STUDY"
	ColBioentity         = "BIOENTITY"
	ColPropertyType      = "PROPERTY_TYPE"
	ColPropertyValue     = "PROPERTY_VALUE"
	ColSemanticTag       = "SEMANTIC_TAG"
	ColAnnotator         = "ANNOTATOR"
	ColAnnotationDate    = "ANNOTATION_DATE"
	ColAnnotationURI     = "ANNOTATION_URI"
	ColAnnotationID      = "ANNOTATION_ID"
	ColStudyURI          = "STUDY_URI"
	ColStudyID           = "STUDY_ID"
	ColStudyType         = "STUDY_TYPE"
	ColBioentityURI      = "BIOENTITY_URI"
	ColBioentityID       = "BIOENTITY_ID"
	ColBioentityTypeName = "BIOENTITY_TYPE_NAME"
	ColBioentityTypeURI  = "BIOENTITY_TYPE_URI"
	ColPropertyURI       = "PROPERTY_URI"
	ColPropertyID        = "PROPERTY_ID"
)

var requiredColumns = []string{ColStudy, ColBioentity, ColPropertyType, ColPropertyValue, ColSemanticTag}

var knownColumns = map[string]bool{
	ColStudy: true, ColBioentity: true, ColPropertyType: true, ColPropertyValue: true,
	ColSemanticTag: true, ColAnnotator: true, ColAnnotationDate: true, ColAnnotationURI: true,
	ColAnnotationID: true, ColStudyURI: true, ColStudyID: true, ColStudyType: true,
	ColBioentityURI: true, ColBioentityID: true, ColBioentityTypeName: true,
	ColBioentityTypeURI: true, ColPropertyURI: true, ColPropertyID: true,
}

// TagSeparator separates several semantic tags in one SEMANTIC_TAG cell.
const TagSeparator = "|"

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
	time.RFC3339,
}

// CSVConfig describes a delimited annotation file.
type CSVConfig struct {
	Name          string
	Path          string
	Delimiter     rune // default '\t'
	Supplementary string
	Provenance    session.ProvenanceTemplate
}

// CSVSource reads annotations from a delimited file with a header row. The
// file is parsed once on first use and served from memory afterwards.
type CSVSource struct {
	cfg     CSVConfig
	factory *session.Factory
	log     *zap.Logger

	once        sync.Once
	annotations []*model.Annotation
	err         error
}

// NewCSVSource creates a source whose identifiers are minted by m.
func NewCSVSource(cfg CSVConfig, m session.Minter) *CSVSource {
	if cfg.Delimiter == 0 {
		cfg.Delimiter = '\t'
	}
	return &CSVSource{
		cfg:     cfg,
		factory: session.NewFactory(session.New(m), cfg.Provenance),
		log:     zap.L().With(zap.String("component", "datasource"), zap.String("datasource", cfg.Name)),
	}
}

// Name implements Datasource.
func (s *CSVSource) Name() string { return s.cfg.Name }

// Session returns the loading session the source creates annotations in.
func (s *CSVSource) Session() *session.Session { return s.factory.Session() }

// Read implements Datasource.
func (s *CSVSource) Read(ctx context.Context) ([]*model.Annotation, error) {
	if err := s.init(ctx); err != nil {
		return nil, err
	}
	return s.annotations, nil
}

// Count implements Counter.
func (s *CSVSource) Count(ctx context.Context) (int, error) {
	if err := s.init(ctx); err != nil {
		return 0, err
	}
	return len(s.annotations), nil
}

// ReadPage implements Pager.
func (s *CSVSource) ReadPage(ctx context.Context, size, start int) ([]*model.Annotation, error) {
	if err := s.init(ctx); err != nil {
		return nil, err
	}
	return Page(s.annotations, size, start), nil
}

// Supplementary implements Enriched. Sources configured without a
// supplementary file return ErrUnsupported.
func (s *CSVSource) Supplementary(_ context.Context) (io.ReadCloser, error) {
	if s.cfg.Supplementary == "" {
		return nil, ErrUnsupported
	}
	f, err := os.Open(s.cfg.Supplementary)
	if err != nil {
		return nil, eris.Wrapf(err, "datasource: open supplementary file for %s", s.cfg.Name)
	}
	return f, nil
}

func (s *CSVSource) init(ctx context.Context) error {
	s.once.Do(func() {
		f, err := os.Open(s.cfg.Path)
		if err != nil {
			s.err = eris.Wrapf(err, "datasource: open %s", s.cfg.Path)
			return
		}
		defer f.Close() //nolint:errcheck

		s.annotations, s.err = s.parse(ctx, f)
		if s.err == nil {
			s.log.Info("datasource: parsed annotation file",
				zap.String("path", s.cfg.Path),
				zap.Int("annotations", len(s.annotations)),
			)
		}
	})
	return s.err
}

// parse reads rows until the first header row, then maps each following row
// to annotations. Rows that resolve to an annotation already produced merge
// into it through the session, so each URI is listed once.
func (s *CSVSource) parse(ctx context.Context, r io.Reader) ([]*model.Annotation, error) {
	rows, errs := streamRows(ctx, r, s.cfg.Delimiter)

	var columns map[string]int
	var out []*model.Annotation
	seen := make(map[string]bool)
	for rw := range rows {
		if columns == nil {
			columns = header(rw.fields)
			if columns != nil {
				if missing := missingColumns(columns); len(missing) > 0 {
					// Drain so the reader goroutine can exit.
					for range rows {
					}
					return nil, eris.Errorf("datasource: %s line %d: required column(s) %s absent",
						s.cfg.Name, rw.line, strings.Join(missing, ", "))
				}
			}
			continue
		}

		rec, err := toRecord(columns, rw.fields)
		if err != nil {
			for range rows {
			}
			return nil, eris.Wrapf(err, "datasource: %s line %d", s.cfg.Name, rw.line)
		}
		anns, err := s.factory.Create(rec)
		if err != nil {
			for range rows {
			}
			return nil, eris.Wrapf(err, "datasource: %s line %d", s.cfg.Name, rw.line)
		}
		for _, a := range anns {
			if seen[a.URI] {
				continue
			}
			seen[a.URI] = true
			out = append(out, a)
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	if columns == nil {
		return nil, eris.Errorf("datasource: %s has no header row", s.cfg.Name)
	}
	return out, nil
}

// header returns the column index of a header row, or nil when fields is
// not one. A header starts with a known column name.
func header(fields []string) map[string]int {
	if len(fields) == 0 || !knownColumns[strings.ToUpper(fields[0])] {
		return nil
	}
	columns := make(map[string]int, len(fields))
	for i, f := range fields {
		columns[strings.ToUpper(f)] = i
	}
	return columns
}

func missingColumns(columns map[string]int) []string {
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := columns[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

func toRecord(columns map[string]int, fields []string) (session.Record, error) {
	get := func(col string) string {
		i, ok := columns[col]
		if !ok || i >= len(fields) {
			return ""
		}
		return fields[i]
	}

	rec := session.Record{
		AnnotationURI:     get(ColAnnotationURI),
		AnnotationID:      get(ColAnnotationID),
		StudyAccession:    get(ColStudy),
		StudyURI:          get(ColStudyURI),
		StudyID:           get(ColStudyID),
		StudyType:         get(ColStudyType),
		BioentityName:     get(ColBioentity),
		BioentityURI:      get(ColBioentityURI),
		BioentityID:       get(ColBioentityID),
		BioentityTypeName: get(ColBioentityTypeName),
		BioentityTypeURI:  get(ColBioentityTypeURI),
		PropertyType:      get(ColPropertyType),
		PropertyValue:     get(ColPropertyValue),
		PropertyURI:       get(ColPropertyURI),
		PropertyID:        get(ColPropertyID),
		SemanticTags:      splitTags(get(ColSemanticTag)),
		Annotator:         get(ColAnnotator),
	}
	if d := get(ColAnnotationDate); d != "" {
		t, err := ParseDate(d)
		if err != nil {
			return rec, err
		}
		rec.AnnotationDate = t
	}
	return rec, nil
}

func splitTags(cell string) []string {
	var tags []string
	for _, t := range strings.Split(cell, TagSeparator) {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// ParseDate accepts yyyy-MM-dd and dd/MM/yyyy dates, with or without a
// HH:mm:ss time, and RFC 3339 timestamps. Times are UTC.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("datasource: unparseable date %q", s)
}
