package model

import (
	"math"
	"strings"
	"time"
)

// Evidence ranks how an annotation was produced. Lower values are more
// trustworthy.
type Evidence int

// Evidence levels, ordered by decreasing trust.
const (
	EvidenceManualCurated Evidence = iota
	EvidenceInferredFromCurated
	EvidenceComputedFromOntology
	EvidenceComputedFromTextMatch
	EvidenceSubmitterProvided
	EvidenceNonTraceable
	EvidenceNone
	EvidenceUnknown
)

var evidenceNames = [...]string{
	"MANUAL_CURATED",
	"ZOOMA_INFERRED_FROM_CURATED",
	"COMPUTED_FROM_ONTOLOGY",
	"COMPUTED_FROM_TEXT_MATCH",
	"SUBMITTER_PROVIDED",
	"NON_TRACEABLE",
	"NO_EVIDENCE",
	"UNKNOWN",
}

const (
	oboNamespace   = "http://purl.obolibrary.org/obo/"
	termsNamespace = "http://rdf.ebi.ac.uk/terms/zooma/"
)

var evidenceTerms = [...]string{
	oboNamespace + "ECO_0000305",
	termsNamespace + "ZOOMA_0000101",
	termsNamespace + "ZOOMA_0000102",
	termsNamespace + "ZOOMA_0000103",
	termsNamespace + "ZOOMA_0000104",
	termsNamespace + "ZOOMA_0000105",
	termsNamespace + "ZOOMA_0000106",
	termsNamespace + "ZOOMA_0000107",
}

func (e Evidence) String() string {
	if e < 0 || int(e) >= len(evidenceNames) {
		return evidenceNames[EvidenceUnknown]
	}
	return evidenceNames[e]
}

// TermID returns the ontology term URI for the evidence code.
func (e Evidence) TermID() string {
	if e < 0 || int(e) >= len(evidenceTerms) {
		return evidenceTerms[EvidenceUnknown]
	}
	return evidenceTerms[e]
}

// Score is the trust weight used by annotation quality: the most trusted
// evidence scores highest, UNKNOWN scores 1.
func (e Evidence) Score() float64 {
	if e < 0 || int(e) >= len(evidenceNames) {
		e = EvidenceUnknown
	}
	return float64(len(evidenceNames) - int(e))
}

// ParseEvidence looks up an evidence code by name or term URI. Unrecognised
// input maps to EvidenceUnknown.
func ParseEvidence(s string) Evidence {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	for i, name := range evidenceNames {
		if name == upper || evidenceTerms[i] == s {
			return Evidence(i)
		}
	}
	return EvidenceUnknown
}

// Accuracy describes how closely a semantic tag matches the annotated value.
type Accuracy int

// Accuracy levels.
const (
	AccuracyNotSpecified Accuracy = iota
	AccuracyPrecise
	AccuracyPartial
	AccuracyImprecise
	AccuracyBroad
)

var accuracyNames = map[Accuracy]string{
	AccuracyNotSpecified: "NOT_SPECIFIED",
	AccuracyPrecise:      "PRECISE",
	AccuracyPartial:      "PARTIAL",
	AccuracyImprecise:    "IMPRECISE",
	AccuracyBroad:        "BROAD",
}

func (a Accuracy) String() string {
	if name, ok := accuracyNames[a]; ok {
		return name
	}
	return accuracyNames[AccuracyNotSpecified]
}

// bonus is the quality adjustment for the accuracy level.
func (a Accuracy) bonus() float64 {
	switch a {
	case AccuracyPrecise:
		return 1
	case AccuracyPartial:
		return 0.5
	case AccuracyImprecise, AccuracyBroad:
		return -0.5
	default:
		return 0
	}
}

// ParseAccuracy looks up an accuracy level by name. Unrecognised names map to
// AccuracyNotSpecified.
func ParseAccuracy(s string) Accuracy {
	s = strings.ToUpper(strings.TrimSpace(s))
	for a, name := range accuracyNames {
		if name == s {
			return a
		}
	}
	return AccuracyNotSpecified
}

// SourceType classifies where annotations come from.
type SourceType string

// Source types.
const (
	SourceDatabase SourceType = "DATABASE"
	SourceOntology SourceType = "ONTOLOGY"
	SourceUnknown  SourceType = "UNKNOWN"
)

// Source identifies the datasource an annotation was loaded from.
type Source struct {
	URI  string     `json:"uri" yaml:"uri"`
	Name string     `json:"name" yaml:"name"`
	Type SourceType `json:"type" yaml:"type"`
}

// Provenance records how, when and by whom an annotation was produced.
type Provenance struct {
	Source         Source    `json:"source"`
	Evidence       Evidence  `json:"evidence"`
	Accuracy       Accuracy  `json:"accuracy"`
	Generator      string    `json:"generator"`
	GeneratedDate  time.Time `json:"generated_date"`
	Annotator      string    `json:"annotator,omitempty"`
	AnnotationDate time.Time `json:"annotation_date,omitempty"`
}

// Quality derives a ranking weight from the provenance: evidence trust, an
// accuracy adjustment and a recency term (log10 of the annotation or
// generation time in unix seconds, 0 when neither is known).
func (p *Provenance) Quality() float64 {
	if p == nil {
		return EvidenceUnknown.Score()
	}
	q := p.Evidence.Score() + p.Accuracy.bonus()

	ts := p.AnnotationDate
	if ts.IsZero() {
		ts = p.GeneratedDate
	}
	if !ts.IsZero() && ts.Unix() > 1 {
		q += math.Log10(float64(ts.Unix()))
	}
	return q
}

// MarshalText encodes the evidence by name.
func (e Evidence) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText decodes an evidence name or term URI.
func (e *Evidence) UnmarshalText(b []byte) error {
	*e = ParseEvidence(string(b))
	return nil
}

// MarshalText encodes the accuracy by name.
func (a Accuracy) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes an accuracy name.
func (a *Accuracy) UnmarshalText(b []byte) error {
	*a = ParseAccuracy(string(b))
	return nil
}
