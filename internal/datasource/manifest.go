package datasource

import (
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/EBISPOT/zooma-sub003/internal/session"
)

// Manifest lists the datasources available for loading.
type Manifest struct {
	BaseURI     string        `yaml:"base_uri"`
	Datasources []SourceEntry `yaml:"datasources"`
}

// SourceEntry configures one delimited annotation file.
type SourceEntry struct {
	Name          string                     `yaml:"name"`
	Path          string                     `yaml:"path"`
	Delimiter     string                     `yaml:"delimiter"` // default tab
	Supplementary string                     `yaml:"supplementary"`
	Provenance    session.ProvenanceTemplate `yaml:"provenance"`
}

// LoadManifest reads a manifest from a YAML file. Relative file paths are
// resolved against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "datasource: read manifest %s", path)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "datasource: parse manifest")
	}

	dir := filepath.Dir(path)
	for i := range m.Datasources {
		e := &m.Datasources[i]
		if e.Path != "" && !filepath.IsAbs(e.Path) {
			e.Path = filepath.Join(dir, e.Path)
		}
		if e.Supplementary != "" && !filepath.IsAbs(e.Supplementary) {
			e.Supplementary = filepath.Join(dir, e.Supplementary)
		}
	}
	return &m, nil
}

// Registry builds a CSV source per entry. baseURI is used when the manifest
// does not set one.
func (m *Manifest) Registry(baseURI string) (*Registry, error) {
	if m.BaseURI != "" {
		baseURI = m.BaseURI
	}
	r := &Registry{sources: make(map[string]Datasource)}
	for _, e := range m.Datasources {
		if e.Name == "" || e.Path == "" {
			return nil, eris.Errorf("datasource: manifest entry %q needs a name and a path", e.Name)
		}
		delim := '\t'
		if e.Delimiter != "" {
			d, size := utf8.DecodeRuneInString(e.Delimiter)
			if size != len(e.Delimiter) {
				return nil, eris.Errorf("datasource: %s delimiter %q is not a single character", e.Name, e.Delimiter)
			}
			delim = d
		}
		src := NewCSVSource(CSVConfig{
			Name:          e.Name,
			Path:          e.Path,
			Delimiter:     delim,
			Supplementary: e.Supplementary,
			Provenance:    e.Provenance,
		}, session.NamespaceMinter{Base: baseURI, Datasource: e.Name})
		if err := r.Register(src); err != nil {
			return nil, err
		}
	}
	return r, nil
}
