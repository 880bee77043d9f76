// Package resolve decides whether a freshly minted annotation duplicates or
// updates an annotation that is already stored.
package resolve

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

// NormalizeType standardizes a property type for comparison by:
//  1. Case folding
//  2. Turning underscores into spaces
//  3. Collapsing runs of whitespace and trimming
//
// Untyped properties normalize to model.UntypedPropertyMarker, which no
// typed property can produce.
func NormalizeType(p *model.Property) string {
	if !p.IsTyped() {
		return model.UntypedPropertyMarker
	}
	// Casers are stateful, so each call gets its own.
	t := cases.Fold().String(p.Type)
	t = strings.ReplaceAll(t, "_", " ")
	t = strings.Join(strings.Fields(t), " ")
	if t == "" {
		return model.UntypedPropertyMarker
	}
	return t
}
