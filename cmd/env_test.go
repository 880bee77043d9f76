package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const (
	human = "http://purl.obolibrary.org/obo/NCBITaxon_9606"
	liver = "http://purl.obolibrary.org/obo/UBERON_0002107"
)

const annotationsTSV = "STUDY\tBIOENTITY\tPROPERTY_TYPE\tPROPERTY_VALUE\tSEMANTIC_TAG\tANNOTATOR\tANNOTATION_DATE\n" +
	"E-MTAB-1\tsample1\torganism\tHomo sapiens\t" + human + "\tcurator\t2023-05-01\n" +
	"E-MTAB-1\tsample2\torganism\tHomo sapiens\t" + human + "\tcurator\t2023-05-01\n" +
	"E-MTAB-2\tsample9\torganism_part\tliver\t" + liver + "\t\t\n"

const manifestYAML = `
datasources:
  - name: arrayexpress
    path: annotations.tsv
    provenance:
      source:
        uri: http://www.ebi.ac.uk/arrayexpress
        name: arrayexpress
        type: DATABASE
      evidence: MANUAL_CURATED
      generator: ZOOMA
`

// setTestConfig points the global config at a fresh sqlite store and a
// one-datasource manifest in a temp dir.
func setTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "annotations.tsv"), []byte(annotationsTSV), 0o644))
	manifest := filepath.Join(dir, "datasources.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(manifestYAML), 0o644))

	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", Path: filepath.Join(dir, "zooma.db")},
		Loading: config.LoadingConfig{
			DatasourceWorkers: 2,
			BlockWorkers:      4,
			BlockSize:         2,
			Retry: config.RetryConfig{
				MaxAttempts:    1,
				InitialBackoff: "1ms",
				MaxBackoff:     "1ms",
				Multiplier:     1,
			},
		},
		Scoring:     config.ScoringConfig{CutoffPercentage: 0.8, CutoffScore: 80},
		Session:     config.SessionConfig{BaseURI: "http://example.org/zooma", IdleTimeout: "1m"},
		Datasources: config.DatasourceConfig{Manifest: manifest},
		Monitoring:  config.MonitoringConfig{FailureRateThreshold: 0.25, LookbackWindowHours: 24},
	}
	return dir
}

func TestInitStore_SQLite(t *testing.T) {
	setTestConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	setTestConfig(t)
	cfg.Store.Driver = "oracle"

	_, err := initStore(context.Background())
	assert.Error(t, err)
}

func TestLoadSources(t *testing.T) {
	setTestConfig(t)

	sources, err := loadSources(true)
	require.NoError(t, err)
	assert.Equal(t, 1, sources.Len())

	cfg.Datasources.Manifest = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = loadSources(true)
	assert.Error(t, err)

	sources, err = loadSources(false)
	require.NoError(t, err)
	assert.Zero(t, sources.Len())
}

func TestParseIdleTimeout(t *testing.T) {
	d, err := parseIdleTimeout("30s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = parseIdleTimeout("")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = parseIdleTimeout("soon")
	assert.ErrorContains(t, err, "session.idle_timeout")
}

func TestInitLoading_InvalidConfig(t *testing.T) {
	setTestConfig(t)
	cfg.Loading.BlockSize = 0

	_, err := initLoading(context.Background(), true)
	assert.ErrorContains(t, err, "loading.block_size")
}

func TestInitLoading_LoadsManifest(t *testing.T) {
	setTestConfig(t)

	env, err := initLoading(context.Background(), true)
	require.NoError(t, err)
	defer env.Close()

	rc, err := env.Service.Load(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, rc.Wait(ctx))

	n, err := env.Store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
