// Package datasource defines where annotations are loaded from and the
// capabilities a source may offer to the loading service.
package datasource

import (
	"context"
	"io"

	"github.com/rotisserie/eris"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

// ErrUnsupported is returned by an optional capability the source cannot
// provide after all.
var ErrUnsupported = eris.New("datasource: operation not supported")

// Datasource produces annotations.
type Datasource interface {
	Name() string
	// Read returns every annotation the source holds.
	Read(ctx context.Context) ([]*model.Annotation, error)
}

// Counter reports how many annotations Read would return.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Pager reads one page of annotations. A start beyond the end returns an
// empty page.
type Pager interface {
	ReadPage(ctx context.Context, size, start int) ([]*model.Annotation, error)
}

// Enriched exposes a supplementary stream loaded alongside the annotations.
type Enriched interface {
	Supplementary(ctx context.Context) (io.ReadCloser, error)
}

// Page returns annotations[start:start+size], clamped to the slice.
func Page(annotations []*model.Annotation, size, start int) []*model.Annotation {
	if start < 0 {
		start = 0
	}
	if size <= 0 || start >= len(annotations) {
		return nil
	}
	end := start + size
	if end > len(annotations) {
		end = len(annotations)
	}
	return annotations[start:end]
}
