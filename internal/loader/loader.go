// Package loader defines where loaded annotations go.
package loader

import (
	"context"
	"io"

	"github.com/rotisserie/eris"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

// ErrLoadFailed marks a failure to hand annotations to a loader.
var ErrLoadFailed = eris.New("loader: load failed")

// Update adds semantic tags to existing annotations, or replaces them.
type Update struct {
	Tags    []string
	Replace bool
}

// Apply returns a copy of a with the update applied. a itself is not
// modified.
func (u Update) Apply(a *model.Annotation) *model.Annotation {
	out := *a
	if u.Replace {
		out.SemanticTags = append([]string(nil), u.Tags...)
		return &out
	}
	out.SemanticTags = append([]string(nil), a.SemanticTags...)
	for _, t := range u.Tags {
		out.AddSemanticTag(t)
	}
	return &out
}

// Loader stores annotations.
type Loader interface {
	// Load stores one batch of annotations read from datasource.
	Load(ctx context.Context, datasource string, annotations []*model.Annotation) error
	LoadOne(ctx context.Context, a *model.Annotation) error
	Update(ctx context.Context, annotations []*model.Annotation, u Update) error
	// LoadSupplementary stores a datasource's supplementary stream.
	LoadSupplementary(ctx context.Context, datasource string, r io.Reader) error
}

// LoadError is a downstream failure while loading one batch. It matches
// both ErrLoadFailed and its cause.
type LoadError struct {
	Datasource string
	Err        error
}

func (e *LoadError) Error() string {
	return "loader: load of " + e.Datasource + " failed: " + e.Err.Error()
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrLoadFailed, e.Err}
}

// Failed wraps err as a load failure of datasource. A nil err stays nil.
func Failed(datasource string, err error) error {
	if err == nil {
		return nil
	}
	return &LoadError{Datasource: datasource, Err: err}
}
