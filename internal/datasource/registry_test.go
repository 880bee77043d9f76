package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

type stubSource struct{ name string }

func (s stubSource) Name() string { return s.name }
func (s stubSource) Read(context.Context) ([]*model.Annotation, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(stubSource{"arrayexpress"}, stubSource{"gwas"}, stubSource{"uniprot"})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())

	var names []string
	for _, ds := range r.All() {
		names = append(names, ds.Name())
	}
	assert.Equal(t, []string{"arrayexpress", "gwas", "uniprot"}, names)

	ds, err := r.Get("gwas")
	require.NoError(t, err)
	assert.Equal(t, "gwas", ds.Name())

	_, err = r.Get("atlas")
	assert.ErrorIs(t, err, ErrUnknownDatasource)

	sel, err := r.Select([]string{"uniprot", "arrayexpress"})
	require.NoError(t, err)
	require.Len(t, sel, 2)
	assert.Equal(t, "uniprot", sel[0].Name())

	sel, err = r.Select(nil)
	require.NoError(t, err)
	assert.Len(t, sel, 3)

	_, err = r.Select([]string{"atlas"})
	assert.ErrorIs(t, err, ErrUnknownDatasource)
}

func TestRegistry_RejectsDuplicatesAndEmptyNames(t *testing.T) {
	_, err := NewRegistry(stubSource{"gwas"}, stubSource{"gwas"})
	assert.ErrorContains(t, err, "already registered")

	r, err := NewRegistry()
	require.NoError(t, err)
	assert.Error(t, r.Register(stubSource{""}))
	assert.Zero(t, r.Len())
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ae.tsv"), []byte(sample), 0o644))
	manifest := `
base_uri: http://example.org/zooma
datasources:
  - name: arrayexpress
    path: ae.tsv
    provenance:
      source:
        uri: http://www.ebi.ac.uk/arrayexpress
        name: arrayexpress
        type: DATABASE
      evidence: MANUAL_CURATED
      accuracy: PRECISE
      generator: ZOOMA
  - name: gwas
    path: /data/gwas.csv
    delimiter: ","
    supplementary: gwas-studies.txt
`
	path := filepath.Join(dir, "datasources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Datasources, 2)
	assert.Equal(t, filepath.Join(dir, "ae.tsv"), m.Datasources[0].Path)
	assert.Equal(t, "/data/gwas.csv", m.Datasources[1].Path)
	assert.Equal(t, filepath.Join(dir, "gwas-studies.txt"), m.Datasources[1].Supplementary)
	assert.Equal(t, model.EvidenceManualCurated, m.Datasources[0].Provenance.Evidence)
	assert.Equal(t, model.AccuracyPrecise, m.Datasources[0].Provenance.Accuracy)
	assert.Equal(t, model.SourceDatabase, m.Datasources[0].Provenance.Source.Type)

	r, err := m.Registry("http://ignored")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	ds, err := r.Get("arrayexpress")
	require.NoError(t, err)
	anns, err := ds.Read(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, anns)
	assert.Contains(t, anns[0].URI, "http://example.org/zooma/arrayexpress/annotation/")
	assert.Equal(t, model.AccuracyPrecise, anns[0].Provenance.Accuracy)
}

func TestManifest_Invalid(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	m := &Manifest{Datasources: []SourceEntry{{Name: "x", Path: "x.tsv", Delimiter: "::"}}}
	_, err = m.Registry("http://x")
	assert.ErrorContains(t, err, "single character")

	m = &Manifest{Datasources: []SourceEntry{{Name: "x"}}}
	_, err = m.Registry("http://x")
	assert.Error(t, err)
}
