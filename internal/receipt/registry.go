package receipt

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrUnknownReceipt is returned for ids that were never registered.
var ErrUnknownReceipt = eris.New("receipt: unknown or unregistered receipt")

// StatusSink persists terminal receipt statuses.
type StatusSink interface {
	SaveReceiptStatus(ctx context.Context, st Status) error
}

// Registry tracks the status of every registered receipt, updating it when
// the receipt completes.
type Registry struct {
	mu       sync.RWMutex
	receipts map[string]Receipt
	statuses map[string]Status
	sink     StatusSink
	wg       sync.WaitGroup
	log      *zap.Logger
}

// NewRegistry creates a registry. sink may be nil.
func NewRegistry(sink StatusSink) *Registry {
	return &Registry{
		receipts: make(map[string]Receipt),
		statuses: make(map[string]Status),
		sink:     sink,
		log:      zap.L().With(zap.String("component", "receipt.registry")),
	}
}

// Register records r and starts monitoring it.
func (r *Registry) Register(rc Receipt) {
	r.mu.Lock()
	r.receipts[rc.ID()] = rc
	r.statuses[rc.ID()] = rc.Status()
	r.mu.Unlock()

	r.wg.Add(1)
	go r.monitor(rc)
}

func (r *Registry) monitor(rc Receipt) {
	defer r.wg.Done()

	<-rc.Done()
	st := rc.Status()

	r.mu.Lock()
	r.statuses[st.ID] = st
	r.mu.Unlock()

	if st.Successful {
		r.log.Debug("receipt: complete",
			zap.String("receipt", st.ID),
			zap.String("datasource", st.Datasource),
			zap.Duration("elapsed", st.Completed.Sub(st.Submitted)),
		)
	} else {
		r.log.Error("receipt: failed",
			zap.String("receipt", st.ID),
			zap.String("datasource", st.Datasource),
			zap.String("error", st.Error),
		)
	}

	if r.sink != nil {
		if err := r.sink.SaveReceiptStatus(context.Background(), st); err != nil {
			r.log.Warn("receipt: failed to persist status", zap.String("receipt", st.ID), zap.Error(err))
		}
	}
}

// Status returns the last known status of the receipt with the given id.
func (r *Registry) Status(id string) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.statuses[id]
	if !ok {
		return Status{}, eris.Wrapf(ErrUnknownReceipt, "receipt: status of %q", id)
	}
	return st, nil
}

// Get returns the registered receipt with the given id.
func (r *Registry) Get(id string) (Receipt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.receipts[id]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownReceipt, "receipt: get %q", id)
	}
	return rc, nil
}

// All returns every known status, oldest receipt first.
func (r *Registry) All() []Status {
	r.mu.RLock()
	out := make([]Status, 0, len(r.statuses))
	for _, st := range r.statuses {
		out = append(out, st)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.ParseInt(out[i].ID, 10, 64)
		b, _ := strconv.ParseInt(out[j].ID, 10, 64)
		return a < b
	})
	return out
}

// Drain blocks until every registered receipt has completed and its status
// has been recorded, or ctx is done.
func (r *Registry) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "receipt: drain registry")
	}
}
