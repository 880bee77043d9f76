package session

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// fieldSeparator keeps ("ab","c") and ("a","bc") from hashing alike.
const fieldSeparator = "\x1f"

// ContentID derives a stable identifier from content fields. Field order
// does not matter; the fields are NFC-normalized, sorted and hashed with MD5.
func ContentID(fields ...string) string {
	sorted := make([]string, len(fields))
	for i, f := range fields {
		sorted[i] = norm.NFC.String(f)
	}
	sort.Strings(sorted)

	sum := md5.Sum([]byte(strings.Join(sorted, fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

// NormalizePropertyType lower-cases a property type and turns underscores
// into spaces, so "Organism_Part" and "organism part" are one type.
func NormalizePropertyType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.Join(strings.Fields(strings.ReplaceAll(t, "_", " ")), " ")
}

// Minter turns identifiers into URIs.
type Minter interface {
	StudyURI(id string) string
	BiologicalEntityURI(id string) string
	PropertyURI(id string) string
	AnnotationURI(id string) string
	TypeURI(name string) string
}

// NamespaceMinter mints URIs of the form <base>/<datasource>/<kind>/<id>.
type NamespaceMinter struct {
	Base       string
	Datasource string
}

func (m NamespaceMinter) mint(kind, id string) string {
	base := strings.TrimRight(m.Base, "/")
	if m.Datasource == "" {
		return base + "/" + kind + "/" + id
	}
	return base + "/" + m.Datasource + "/" + kind + "/" + id
}

func (m NamespaceMinter) StudyURI(id string) string            { return m.mint("study", id) }
func (m NamespaceMinter) BiologicalEntityURI(id string) string { return m.mint("bioentity", id) }
func (m NamespaceMinter) PropertyURI(id string) string         { return m.mint("property", id) }
func (m NamespaceMinter) AnnotationURI(id string) string       { return m.mint("annotation", id) }

// TypeURI mints a type from a free-text type name.
func (m NamespaceMinter) TypeURI(name string) string {
	return m.mint("type", strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}
