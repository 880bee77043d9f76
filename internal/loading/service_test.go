package loading

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/config"
	"github.com/EBISPOT/zooma-sub003/internal/datasource"
	"github.com/EBISPOT/zooma-sub003/internal/loader"
	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/receipt"
	"github.com/EBISPOT/zooma-sub003/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// countingLoader records every call it receives.
type countingLoader struct {
	mu      sync.Mutex
	loads   []int
	names   []string
	updates []int
	supp    []string
	failOn  func(n int) error
}

func (l *countingLoader) Load(_ context.Context, ds string, anns []*model.Annotation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failOn != nil {
		if err := l.failOn(len(anns)); err != nil {
			return err
		}
	}
	l.loads = append(l.loads, len(anns))
	l.names = append(l.names, ds)
	return nil
}

func (l *countingLoader) LoadOne(ctx context.Context, a *model.Annotation) error {
	return l.Load(ctx, "one", []*model.Annotation{a})
}

func (l *countingLoader) Update(_ context.Context, anns []*model.Annotation, _ loader.Update) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, len(anns))
	return nil
}

func (l *countingLoader) LoadSupplementary(_ context.Context, ds string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.supp = append(l.supp, ds+":"+string(data))
	return nil
}

func (l *countingLoader) loadSizes() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]int(nil), l.loads...)
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

func (l *countingLoader) total() int {
	n := 0
	for _, s := range l.loadSizes() {
		n += s
	}
	return n
}

// readOnly has neither Count nor ReadPage.
type readOnly struct {
	name  string
	items []*model.Annotation
	err   error
}

func (d *readOnly) Name() string { return d.name }

func (d *readOnly) Read(context.Context) ([]*model.Annotation, error) {
	return d.items, d.err
}

// paged generates count annotations on demand.
type paged struct {
	name       string
	count      int
	countErr   error
	pageErr    func(start int) error
	supplement string
	reads      atomic.Int64
}

func (d *paged) Name() string { return d.name }

func (d *paged) Read(ctx context.Context) ([]*model.Annotation, error) {
	return d.ReadPage(ctx, d.count, 0)
}

func (d *paged) Count(context.Context) (int, error) {
	return d.count, d.countErr
}

func (d *paged) ReadPage(_ context.Context, size, start int) ([]*model.Annotation, error) {
	d.reads.Add(1)
	if d.pageErr != nil {
		if err := d.pageErr(start); err != nil {
			return nil, err
		}
	}
	if start >= d.count {
		return nil, nil
	}
	n := min(size, d.count-start)
	out := make([]*model.Annotation, n)
	for i := range out {
		out[i] = &model.Annotation{URI: fmt.Sprintf("http://example.org/%s/%d", d.name, start+i)}
	}
	return out, nil
}

// enriched adds a supplementary stream to paged.
type enriched struct {
	*paged
}

func (d enriched) Supplementary(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(d.supplement)), nil
}

func testConfig(blockSize int) Config {
	cfg := DefaultConfig()
	cfg.BlockSize = blockSize
	cfg.Retry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	return cfg
}

func newService(t *testing.T, cfg Config, l loader.Loader, sources ...datasource.Datasource) *Service {
	t.Helper()
	reg, err := datasource.NewRegistry(sources...)
	require.NoError(t, err)
	s := New(cfg, l, reg, nil, nil)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func wait(t *testing.T, r receipt.Receipt) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.Wait(ctx)
}

func TestLoadDatasource_PartitionsIntoBlocks(t *testing.T) {
	l := &countingLoader{}
	ds := &paged{name: "gxa", count: 250000}
	s := newService(t, testConfig(100000), l, ds)

	r, err := s.LoadDatasource(context.Background(), ds)
	require.NoError(t, err)
	require.NoError(t, wait(t, r))

	assert.Equal(t, []int{100000, 100000, 50000}, l.loadSizes())
	assert.Equal(t, model.LoadDatasource, r.LoadType())
	assert.Equal(t, "gxa", r.Datasource())
	assert.Equal(t, 3.0, testutil.ToFloat64(s.Metrics().BlocksScheduled.WithLabelValues("gxa")))
	assert.Equal(t, 250000.0, testutil.ToFloat64(s.Metrics().AnnotationsLoaded.WithLabelValues("gxa")))
}

func TestLoadDatasource_FailingBlockSurfacesOnWait(t *testing.T) {
	l := &countingLoader{}
	ds := &paged{
		name:  "gxa",
		count: 250000,
		pageErr: func(start int) error {
			if start == 100000 {
				return errors.New("block exploded")
			}
			return nil
		},
	}
	s := newService(t, testConfig(100000), l, ds)

	r, err := s.LoadDatasource(context.Background(), ds)
	require.NoError(t, err)

	err = wait(t, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block exploded")

	// The sibling blocks still reached the loader.
	assert.Equal(t, []int{100000, 50000}, l.loadSizes())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().BlocksFailed.WithLabelValues("gxa")))
	assert.False(t, r.Status().Successful)
}

func TestLoadDatasource_LoaderFailureAbortsOnlyThatBlock(t *testing.T) {
	l := &countingLoader{failOn: func(n int) error {
		if n == 5 {
			return loader.Failed("gxa", errors.New("disk full"))
		}
		return nil
	}}
	ds := &paged{name: "gxa", count: 25}
	s := newService(t, testConfig(10), l, ds)

	r, err := s.LoadDatasource(context.Background(), ds)
	require.NoError(t, err)
	err = wait(t, r)
	require.Error(t, err)
	assert.ErrorIs(t, err, loader.ErrLoadFailed)
	assert.Equal(t, []int{10, 10}, l.loadSizes())
}

func TestLoadDatasource_ZeroCount(t *testing.T) {
	l := &countingLoader{}
	ds := enriched{&paged{name: "empty", supplement: "ignored"}}
	s := newService(t, testConfig(10), l, ds)

	r, err := s.LoadDatasource(context.Background(), ds)
	require.NoError(t, err)
	require.NoError(t, wait(t, r))

	assert.Empty(t, l.loadSizes())
	assert.Empty(t, l.supp)
	assert.Zero(t, ds.reads.Load())
	assert.True(t, r.Status().Successful)
}

func TestLoadDatasource_MaxCount(t *testing.T) {
	l := &countingLoader{}
	ds := &paged{name: "gxa", count: 25}
	cfg := testConfig(10)
	cfg.MaxCount = 15
	s := newService(t, cfg, l, ds)

	r, err := s.LoadDatasource(context.Background(), ds)
	require.NoError(t, err)
	require.NoError(t, wait(t, r))
	assert.Equal(t, []int{10, 5}, l.loadSizes())
}

func TestLoadDatasource_SingleRoundWithoutCounter(t *testing.T) {
	l := &countingLoader{}
	ds := &readOnly{name: "ols", items: []*model.Annotation{{URI: "a"}, {URI: "b"}, {URI: "c"}}}
	s := newService(t, testConfig(2), l, ds)

	r, err := s.LoadDatasource(context.Background(), ds)
	require.NoError(t, err)
	require.NoError(t, wait(t, r))
	assert.Equal(t, []int{3}, l.loadSizes())
}

func TestLoadDatasource_SingleRoundWhenCountUnsupported(t *testing.T) {
	l := &countingLoader{}
	ds := &paged{name: "gxa", count: 7, countErr: datasource.ErrUnsupported}
	s := newService(t, testConfig(2), l, ds)

	r, err := s.LoadDatasource(context.Background(), ds)
	require.NoError(t, err)
	require.NoError(t, wait(t, r))
	assert.Equal(t, []int{7}, l.loadSizes())
}

func TestLoadDatasource_PageUnsupportedLoadsNothing(t *testing.T) {
	l := &countingLoader{}
	ds := &paged{name: "gxa", count: 7, pageErr: func(int) error { return datasource.ErrUnsupported }}
	s := newService(t, testConfig(5), l, ds)

	r, err := s.LoadDatasource(context.Background(), ds)
	require.NoError(t, err)
	require.NoError(t, wait(t, r))
	assert.Empty(t, l.loadSizes())
}

func TestLoadDatasource_CountFailureIsSchedulingFailure(t *testing.T) {
	ds := &paged{name: "broken", countErr: errors.New("no such table")}
	s := newService(t, testConfig(5), &countingLoader{}, ds)

	_, err := s.LoadDatasource(context.Background(), ds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table")
}

func TestLoadDatasource_RetriesTransientReads(t *testing.T) {
	var failures atomic.Int64
	l := &countingLoader{}
	ds := &paged{name: "gxa", count: 4, pageErr: func(int) error {
		if failures.Add(1) == 1 {
			return resilience.Transient("gxa", errors.New("connection reset"))
		}
		return nil
	}}
	s := newService(t, testConfig(10), l, ds)

	r, err := s.LoadDatasource(context.Background(), ds)
	require.NoError(t, err)
	require.NoError(t, wait(t, r))
	assert.Equal(t, []int{4}, l.loadSizes())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().ReadRetries.WithLabelValues("gxa")))
}

func TestLoadDatasource_ForwardsSupplementaryOnce(t *testing.T) {
	l := &countingLoader{}
	ds := enriched{&paged{name: "efo", count: 30, supplement: "triples"}}
	s := newService(t, testConfig(10), l, ds)

	r, err := s.LoadDatasource(context.Background(), ds)
	require.NoError(t, err)
	require.NoError(t, wait(t, r))
	assert.Equal(t, 30, l.total())
	assert.Equal(t, []string{"efo:triples"}, l.supp)
}

func TestLoadDatasource_ReadRateLimit(t *testing.T) {
	l := &countingLoader{}
	ds := &paged{name: "gxa", count: 3}
	cfg := testConfig(1)
	cfg.ReadRate = 1000
	s := newService(t, cfg, l, ds)

	r, err := s.LoadDatasource(context.Background(), ds)
	require.NoError(t, err)
	require.NoError(t, wait(t, r))
	assert.Equal(t, 3, l.total())
}

func TestLoad_AllAvailable(t *testing.T) {
	l := &countingLoader{}
	a := &paged{name: "gxa", count: 25}
	b := &readOnly{name: "ols", items: []*model.Annotation{{URI: "x"}}}
	s := newService(t, testConfig(10), l, a, b)

	r, err := s.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, wait(t, r))

	assert.Equal(t, AllAvailable, r.Datasource())
	assert.Equal(t, model.LoadAll, r.LoadType())
	assert.Equal(t, 26, l.total())

	composite, ok := r.(*receipt.Composite)
	require.True(t, ok)
	assert.True(t, composite.Finished())
	assert.Len(t, composite.Children(), 2)
}

func TestLoad_OneBadDatasourceDoesNotBlockOthers(t *testing.T) {
	l := &countingLoader{}
	good := &paged{name: "gxa", count: 12}
	bad := &paged{name: "broken", countErr: errors.New("misconfigured")}
	s := newService(t, testConfig(5), l, bad, good)

	r, err := s.Load(context.Background())
	require.NoError(t, err)

	err = wait(t, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "misconfigured")
	assert.Equal(t, 12, l.total())

	children := r.(*receipt.Composite).Children()
	require.Len(t, children, 2)
	var failed int
	for _, c := range children {
		if _, ok := c.(*receipt.FailedReceipt); ok {
			failed++
			assert.Equal(t, "broken", c.Datasource())
		}
	}
	assert.Equal(t, 1, failed)
}

func TestLoad_NoDatasources(t *testing.T) {
	s := newService(t, testConfig(5), &countingLoader{})
	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoDatasources)
}

func TestLoadSelected(t *testing.T) {
	l := &countingLoader{}
	a := &paged{name: "gxa", count: 3}
	b := &paged{name: "atlas", count: 4}
	s := newService(t, testConfig(10), l, a, b)

	r, err := s.LoadSelected(context.Background(), []string{"atlas"})
	require.NoError(t, err)
	require.NoError(t, wait(t, r))
	assert.Equal(t, "atlas", r.Datasource())
	assert.Equal(t, []int{4}, l.loadSizes())

	_, err = s.LoadSelected(context.Background(), []string{"nope"})
	assert.Error(t, err)
}

func TestLoadItems(t *testing.T) {
	l := &countingLoader{}
	s := newService(t, testConfig(2), l)

	items := make([]*model.Annotation, 5)
	for i := range items {
		items[i] = &model.Annotation{URI: fmt.Sprintf("http://example.org/a/%d", i)}
	}

	r, err := s.LoadItems(context.Background(), items, "")
	require.NoError(t, err)
	require.NoError(t, wait(t, r))

	assert.Equal(t, []int{2, 2, 1}, l.loadSizes())
	assert.Equal(t, model.LoadDataItems, r.LoadType())
	assert.True(t, strings.HasPrefix(r.Datasource(), "items-"))

	again, err := s.LoadItems(context.Background(), items, "")
	require.NoError(t, err)
	assert.Equal(t, r.Datasource(), again.Datasource())
	require.NoError(t, wait(t, again))

	named, err := s.LoadItems(context.Background(), items[:1], "manual")
	require.NoError(t, err)
	require.NoError(t, wait(t, named))
	assert.Equal(t, "manual", named.Datasource())
}

func TestUpdate(t *testing.T) {
	l := &countingLoader{}
	cfg := testConfig(2)
	cfg.MaxCount = 3
	s := newService(t, cfg, l)

	items := []*model.Annotation{{URI: "a"}, {URI: "b"}, {URI: "c"}, {URI: "d"}}
	r, err := s.Update(context.Background(), items, loader.Update{Tags: []string{"http://www.ebi.ac.uk/efo/EFO_0000001"}})
	require.NoError(t, err)
	require.NoError(t, wait(t, r))

	assert.Equal(t, UpdateName, r.Datasource())
	l.mu.Lock()
	defer l.mu.Unlock()
	sort.Ints(l.updates)
	assert.Equal(t, []int{1, 2}, l.updates)
}

func TestShutdown(t *testing.T) {
	ds := &paged{name: "gxa", count: 3}
	s := newService(t, testConfig(10), &countingLoader{}, ds)
	assert.Equal(t, StateRunning, s.Status())

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, StateShutdown, s.Status())

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = s.LoadDatasource(context.Background(), ds)
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = s.LoadItems(context.Background(), nil, "x")
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = s.Update(context.Background(), nil, loader.Update{})
	assert.ErrorIs(t, err, ErrShutdown)

	// Shutdown is idempotent.
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestReceiptsAreRegistered(t *testing.T) {
	l := &countingLoader{}
	a := &paged{name: "gxa", count: 3}
	s := newService(t, testConfig(10), l, a)

	r, err := s.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, wait(t, r))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Receipts().Drain(ctx))

	statuses := s.Receipts().All()
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.True(t, st.Complete)
		assert.True(t, st.Successful)
	}

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(s.Metrics().Receipts.WithLabelValues(string(model.LoadAll), "success")) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFromConfig(t *testing.T) {
	cfg, err := FromConfig(configLoading(0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, DefaultDatasourceWorkers, cfg.DatasourceWorkers)
	assert.Equal(t, DefaultBlockWorkers, cfg.BlockWorkers)
	assert.Equal(t, DefaultBlockSize, cfg.BlockSize)

	cfg, err = FromConfig(configLoading(2, 8, 500))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.DatasourceWorkers)
	assert.Equal(t, 8, cfg.BlockWorkers)
	assert.Equal(t, 500, cfg.BlockSize)

	bad := configLoading(1, 1, 1)
	bad.Retry.InitialBackoff = "soon"
	_, err = FromConfig(bad)
	assert.Error(t, err)
}

func TestConfigBlocks(t *testing.T) {
	cfg := Config{BlockSize: 100000}
	tests := []struct {
		total, want int
	}{
		{0, 0},
		{1, 1},
		{100000, 1},
		{100001, 2},
		{250000, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.blocks(tt.total), "total %d", tt.total)
	}
}

func configLoading(datasourceWorkers, blockWorkers, blockSize int) config.LoadingConfig {
	return config.LoadingConfig{
		DatasourceWorkers: datasourceWorkers,
		BlockWorkers:      blockWorkers,
		BlockSize:         blockSize,
	}
}
