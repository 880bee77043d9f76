// Package loading schedules annotation loads from datasources onto two
// bounded worker pools and tracks them with receipts.
package loading

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/EBISPOT/zooma-sub003/internal/datasource"
	"github.com/EBISPOT/zooma-sub003/internal/loader"
	"github.com/EBISPOT/zooma-sub003/internal/metrics"
	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/receipt"
	"github.com/EBISPOT/zooma-sub003/internal/resilience"
	"github.com/EBISPOT/zooma-sub003/internal/session"
	"github.com/EBISPOT/zooma-sub003/internal/workload"
)

var (
	// ErrShutdown is returned by every load once Shutdown has been called.
	ErrShutdown = eris.New("loading: service has been shut down")
	// ErrNoDatasources is returned by Load when there is nothing to load.
	ErrNoDatasources = eris.New("loading: no datasources registered, nothing to load")
)

// Receipt names used when a load has no single datasource.
const (
	AllAvailable = "All Available"
	UpdateName   = "zooma-update"
)

// State is the lifecycle state of a Service.
type State string

// Service states.
const (
	StateRunning      State = "RUNNING"
	StateShuttingDown State = "SHUTTING_DOWN"
	StateShutdown     State = "SHUTDOWN"
)

// Service loads annotations from registered datasources into a loader.
// Datasource-level work runs on a small pool and block-level work on a
// larger one, so a slow block cannot starve datasource scheduling.
type Service struct {
	cfg      Config
	loader   loader.Loader
	sources  *datasource.Registry
	receipts *receipt.Registry
	metrics  *metrics.Metrics

	datasourcePool *workload.Pool
	blockPool      *workload.Pool

	mu       sync.RWMutex
	state    State
	limiters map[string]*rate.Limiter

	log *zap.Logger
}

// New creates a running service. A nil sources, receipts or m gets an empty
// registry or fresh metrics.
func New(cfg Config, l loader.Loader, sources *datasource.Registry, receipts *receipt.Registry, m *metrics.Metrics) *Service {
	cfg = cfg.withDefaults()
	if sources == nil {
		sources, _ = datasource.NewRegistry()
	}
	if receipts == nil {
		receipts = receipt.NewRegistry(nil)
	}
	if m == nil {
		m = metrics.New()
	}

	s := &Service{
		cfg:            cfg,
		loader:         l,
		sources:        sources,
		receipts:       receipts,
		metrics:        m,
		datasourcePool: workload.NewPool("datasource", cfg.DatasourceWorkers),
		blockPool:      workload.NewPool("block", cfg.BlockWorkers),
		state:          StateRunning,
		limiters:       make(map[string]*rate.Limiter),
		log:            zap.L().With(zap.String("component", "loading")),
	}
	for _, p := range []*workload.Pool{s.datasourcePool, s.blockPool} {
		if err := m.WatchPool(p); err != nil {
			s.log.Warn("loading: pool gauges unavailable", zap.String("pool", p.Name()), zap.Error(err))
		}
	}
	return s
}

// Datasources returns the datasource registry.
func (s *Service) Datasources() *datasource.Registry { return s.sources }

// Receipts returns the receipt registry.
func (s *Service) Receipts() *receipt.Registry { return s.receipts }

// Metrics returns the service collectors.
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// AddDatasource registers ds for later loads.
func (s *Service) AddDatasource(ds datasource.Datasource) error {
	return s.sources.Register(ds)
}

// Status returns the lifecycle state.
func (s *Service) Status() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) checkRunning() error {
	if s.Status() != StateRunning {
		return ErrShutdown
	}
	return nil
}

// Shutdown stops both pools accepting work and waits, until ctx is done,
// for admitted tasks to finish. It is terminal.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	s.mu.Unlock()

	s.log.Info("loading: shutting down")
	s.datasourcePool.Shutdown()
	s.blockPool.Shutdown()

	var errs []error
	for _, p := range []*workload.Pool{s.datasourcePool, s.blockPool} {
		if err := p.AwaitTermination(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	s.state = StateShutdown
	s.mu.Unlock()
	s.log.Info("loading: shut down")
	return errors.Join(errs...)
}

// Load loads every registered datasource. The returned composite receipt
// is finished once every datasource load has been scheduled and completes
// when all of them have.
func (s *Service) Load(ctx context.Context) (receipt.Receipt, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	sources := s.sources.All()
	if len(sources) == 0 {
		s.log.Error("loading: no datasources could be detected")
		return nil, ErrNoDatasources
	}
	return s.loadAll(ctx, AllAvailable, sources)
}

// LoadSelected loads the named datasources under one composite receipt.
func (s *Service) LoadSelected(ctx context.Context, names []string) (receipt.Receipt, error) {
	if len(names) == 0 {
		return s.Load(ctx)
	}
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	sources, err := s.sources.Select(names)
	if err != nil {
		return nil, eris.Wrap(err, "loading: select datasources")
	}
	return s.loadAll(ctx, strings.Join(names, ","), sources)
}

func (s *Service) loadAll(ctx context.Context, name string, sources []datasource.Datasource) (receipt.Receipt, error) {
	s.log.Debug("loading: loading datasources", zap.String("receipt", name), zap.Int("datasources", len(sources)))

	composite := receipt.NewComposite(name, model.LoadAll)
	s.register(composite)

	var scheduled atomic.Int64
	total := int64(len(sources))
	sched := workload.NewScheduler(s.datasourcePool, len(sources), "zooma loading",
		func(ctx context.Context, i int) error {
			ds := sources[i-1]
			s.log.Debug("loading: delegating datasource load",
				zap.String("datasource", ds.Name()),
				zap.Int("iteration", i),
			)
			r, err := s.LoadDatasource(ctx, ds)
			if err != nil {
				r = receipt.NewFailed(ds.Name(), model.LoadDatasource, err)
				s.register(r)
			}
			if err := composite.Add(r); err != nil {
				return err
			}
			if scheduled.Add(1) == total {
				s.log.Debug("loading: scheduled last datasource load", zap.String("datasource", ds.Name()))
				return composite.Finish()
			}
			return nil
		})
	if err := sched.Start(ctx); err != nil {
		return nil, eris.Wrapf(err, "loading: start %s", name)
	}

	// Iterations that never ran would leave the composite open forever.
	go func() {
		err := sched.Wait(context.Background())
		if err == nil || composite.Finished() {
			return
		}
		failed := receipt.NewFailed(name, model.LoadAll, err)
		s.register(failed)
		_ = composite.Add(failed)
		_ = composite.Finish()
	}()
	return composite, nil
}

// LoadDatasource schedules one load of ds and returns immediately. The
// annotation count decides the number of blocks; a datasource that cannot
// count is read in a single round.
func (s *Service) LoadDatasource(ctx context.Context, ds datasource.Datasource) (receipt.Receipt, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	name := ds.Name()
	s.log.Info("loading: retrieving annotations", zap.String("datasource", name))

	count, counted, err := s.count(ctx, ds)
	if err != nil {
		return nil, err
	}

	var sched *workload.Scheduler
	if counted {
		total := s.cfg.capped(count)
		iterations := s.cfg.blocks(total)
		s.log.Debug("loading: scheduling blocks",
			zap.String("datasource", name),
			zap.Int("total", total),
			zap.Int("blocks", iterations),
			zap.Int("block_size", s.cfg.BlockSize),
		)
		sched = workload.NewScheduler(s.blockPool, iterations, name, func(ctx context.Context, i int) error {
			start := (i - 1) * s.cfg.BlockSize
			size := min(s.cfg.BlockSize, total-start)
			return s.loadBlock(ctx, ds, i, iterations, size, start)
		})
		s.metrics.BlocksScheduled.WithLabelValues(name).Add(float64(iterations))
	} else {
		s.log.Warn("loading: datasource cannot count, loading in a single round", zap.String("datasource", name))
		sched = workload.NewScheduler(s.blockPool, 1, name, func(ctx context.Context, _ int) error {
			return s.loadRound(ctx, ds)
		})
		s.metrics.BlocksScheduled.WithLabelValues(name).Inc()
	}

	if err := sched.Start(ctx); err != nil {
		return nil, eris.Wrapf(err, "loading: start %s", name)
	}
	r := receipt.NewWorkload(name, model.LoadDatasource, sched)
	s.register(r)
	return r, nil
}

// count asks ds for its size. counted is false when ds cannot count.
func (s *Service) count(ctx context.Context, ds datasource.Datasource) (n int, counted bool, err error) {
	c, ok := ds.(datasource.Counter)
	if !ok {
		return 0, false, nil
	}
	n, err = resilience.DoVal(ctx, s.retry(ds.Name(), "count"), c.Count)
	if errors.Is(err, datasource.ErrUnsupported) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "loading: count %s", ds.Name())
	}
	return n, true, nil
}

func (s *Service) loadBlock(ctx context.Context, ds datasource.Datasource, iteration, iterations, size, start int) error {
	name := ds.Name()
	started := time.Now()
	s.log.Debug("loading: fetching block",
		zap.String("datasource", name),
		zap.Int("block", iteration),
		zap.Int("blocks", iterations),
	)

	pager, ok := ds.(datasource.Pager)
	if !ok {
		s.log.Warn("loading: datasource cannot read pages, no annotations will be loaded", zap.String("datasource", name))
		return nil
	}
	if err := s.limiter(name).Wait(ctx); err != nil {
		return s.blockFailed(name, eris.Wrapf(err, "loading: rate limit %s", name))
	}
	items, err := resilience.DoVal(ctx, s.retry(name, "read page"), func(ctx context.Context) ([]*model.Annotation, error) {
		return pager.ReadPage(ctx, size, start)
	})
	if errors.Is(err, datasource.ErrUnsupported) {
		s.log.Warn("loading: datasource cannot read pages, no annotations will be loaded", zap.String("datasource", name))
		return nil
	}
	if err != nil {
		return s.blockFailed(name, eris.Wrapf(err, "loading: read %s block %d", name, iteration))
	}
	if err := s.deliver(ctx, name, items); err != nil {
		return s.blockFailed(name, err)
	}
	if iteration == 1 {
		if err := s.supplementary(ctx, ds); err != nil {
			return s.blockFailed(name, err)
		}
	}
	s.metrics.BlockDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
	return nil
}

func (s *Service) loadRound(ctx context.Context, ds datasource.Datasource) error {
	name := ds.Name()
	items, err := resilience.DoVal(ctx, s.retry(name, "read"), ds.Read)
	if errors.Is(err, datasource.ErrUnsupported) {
		s.log.Warn("loading: datasource cannot read, no annotations will be loaded", zap.String("datasource", name))
		return nil
	}
	if err != nil {
		return s.blockFailed(name, eris.Wrapf(err, "loading: read %s", name))
	}
	if n := s.cfg.capped(len(items)); n < len(items) {
		items = items[:n]
	}
	if err := s.deliver(ctx, name, items); err != nil {
		return s.blockFailed(name, err)
	}
	if err := s.supplementary(ctx, ds); err != nil {
		return s.blockFailed(name, err)
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, name string, items []*model.Annotation) error {
	if len(items) == 0 {
		return nil
	}
	s.metrics.AnnotationsLoaded.WithLabelValues(name).Add(float64(len(items)))
	return s.loader.Load(ctx, name, items)
}

// supplementary forwards the enrichment stream of ds, if it has one.
func (s *Service) supplementary(ctx context.Context, ds datasource.Datasource) error {
	e, ok := ds.(datasource.Enriched)
	if !ok {
		return nil
	}
	rc, err := e.Supplementary(ctx)
	if errors.Is(err, datasource.ErrUnsupported) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "loading: open supplementary stream of %s", ds.Name())
	}
	defer rc.Close() //nolint:errcheck
	return s.loader.LoadSupplementary(ctx, ds.Name(), rc)
}

func (s *Service) blockFailed(name string, err error) error {
	s.metrics.BlocksFailed.WithLabelValues(name).Inc()
	return err
}

// LoadItems loads an in-memory collection in blocks. An empty name is
// replaced by a content hash of the items.
func (s *Service) LoadItems(ctx context.Context, items []*model.Annotation, name string) (receipt.Receipt, error) {
	if name == "" {
		name = itemsName(items)
	}
	s.log.Info("loading: loading supplied annotations", zap.String("name", name), zap.Int("items", len(items)))
	return s.partition(ctx, name, items, func(ctx context.Context, block []*model.Annotation) error {
		return s.deliver(ctx, name, block)
	})
}

// Update applies u to items in blocks.
func (s *Service) Update(ctx context.Context, items []*model.Annotation, u loader.Update) (receipt.Receipt, error) {
	s.log.Info("loading: updating supplied annotations", zap.Int("items", len(items)))
	return s.partition(ctx, UpdateName, items, func(ctx context.Context, block []*model.Annotation) error {
		return s.loader.Update(ctx, block, u)
	})
}

func (s *Service) partition(ctx context.Context, name string, items []*model.Annotation, fn func(context.Context, []*model.Annotation) error) (receipt.Receipt, error) {
	if err := s.checkRunning(); err != nil {
		return nil, err
	}
	total := s.cfg.capped(len(items))
	iterations := s.cfg.blocks(total)
	sched := workload.NewScheduler(s.blockPool, iterations, name, func(ctx context.Context, i int) error {
		start := (i - 1) * s.cfg.BlockSize
		block := datasource.Page(items[:total], s.cfg.BlockSize, start)
		if err := fn(ctx, block); err != nil {
			return s.blockFailed(name, err)
		}
		return nil
	})
	s.metrics.BlocksScheduled.WithLabelValues(name).Add(float64(iterations))

	if err := sched.Start(ctx); err != nil {
		return nil, eris.Wrapf(err, "loading: start %s", name)
	}
	r := receipt.NewWorkload(name, model.LoadDataItems, sched)
	s.register(r)
	return r, nil
}

func itemsName(items []*model.Annotation) string {
	uris := make([]string, 0, len(items))
	for _, a := range items {
		if a != nil {
			uris = append(uris, a.URI)
		}
	}
	return "items-" + session.ContentID(uris...)[:12]
}

// register hands r to the receipt registry and counts its outcome.
func (s *Service) register(r receipt.Receipt) {
	s.receipts.Register(r)
	go func() {
		<-r.Done()
		st := r.Status()
		var err error
		if !st.Successful {
			err = errors.New(st.Error)
		}
		s.metrics.ObserveReceipt(string(st.LoadType), err)
	}()
}

func (s *Service) retry(name, operation string) resilience.RetryConfig {
	cfg := s.cfg.Retry
	onRetry := resilience.RetryLogger(name, operation)
	cfg.OnRetry = func(attempt int, err error) {
		s.metrics.ReadRetries.WithLabelValues(name).Inc()
		onRetry(attempt, err)
	}
	return cfg
}

// limiter returns the read limiter of a datasource.
func (s *Service) limiter(name string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[name]
	if !ok {
		limit := rate.Inf
		if s.cfg.ReadRate > 0 {
			limit = rate.Limit(s.cfg.ReadRate)
		}
		l = rate.NewLimiter(limit, 1)
		s.limiters[name] = l
	}
	return l
}
