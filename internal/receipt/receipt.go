// Package receipt provides handles for asynchronous units of loading work.
package receipt

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

// Receipt is a handle on an in-flight or completed unit of work.
type Receipt interface {
	ID() string
	Datasource() string
	LoadType() model.LoadType
	Submitted() time.Time
	// Completed is zero until the work is done.
	Completed() time.Time
	// Done is closed once the work has finished, successfully or not.
	Done() <-chan struct{}
	// Wait blocks until the work is done and returns its failure, if any.
	// Cancelling ctx abandons the wait, not the work.
	Wait(ctx context.Context) error
	Status() Status
}

// Status is a point-in-time view of a receipt.
type Status struct {
	ID         string         `json:"id"`
	Datasource string         `json:"datasource"`
	LoadType   model.LoadType `json:"load_type"`
	Complete   bool           `json:"complete"`
	Successful bool           `json:"successful"`
	Error      string         `json:"error,omitempty"`
	Submitted  time.Time      `json:"submitted"`
	Completed  time.Time      `json:"completed,omitempty"`
}

// Waiter is anything whose completion a receipt can track.
type Waiter interface {
	Wait(ctx context.Context) error
}

var lastID atomic.Int64

// nextID hands out receipt ids, starting at 1.
func nextID() string {
	return strconv.FormatInt(lastID.Add(1), 10)
}

// base carries the identity and terminal outcome shared by every receipt.
type base struct {
	id         string
	datasource string
	loadType   model.LoadType
	submitted  time.Time

	once sync.Once
	done chan struct{}

	mu        sync.Mutex
	completed time.Time
	err       error
}

func (b *base) init(datasource string, loadType model.LoadType) {
	b.id = nextID()
	b.datasource = datasource
	b.loadType = loadType
	b.submitted = time.Now().UTC()
	b.done = make(chan struct{})
}

func (b *base) ID() string               { return b.id }
func (b *base) Datasource() string       { return b.datasource }
func (b *base) LoadType() model.LoadType { return b.loadType }
func (b *base) Submitted() time.Time     { return b.submitted }
func (b *base) Done() <-chan struct{}    { return b.done }

func (b *base) Completed() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

// complete records the outcome. Only the first call has any effect.
func (b *base) complete(err error) {
	b.once.Do(func() {
		b.mu.Lock()
		b.completed = time.Now().UTC()
		b.err = err
		b.mu.Unlock()
		close(b.done)
	})
}

func (b *base) outcome() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *base) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.outcome()
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "receipt: wait for %s", b.id)
	}
}

func (b *base) Status() Status {
	st := Status{
		ID:         b.id,
		Datasource: b.datasource,
		LoadType:   b.loadType,
		Submitted:  b.submitted,
	}
	select {
	case <-b.done:
	default:
		return st
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st.Complete = true
	st.Completed = b.completed
	st.Successful = b.err == nil
	if b.err != nil {
		st.Error = b.err.Error()
	}
	return st
}

// WorkloadReceipt tracks a single scheduled workload.
type WorkloadReceipt struct {
	base
}

// NewWorkload returns a receipt that completes when w finishes. The failure
// returned by w becomes the receipt's failure.
func NewWorkload(datasource string, loadType model.LoadType, w Waiter) *WorkloadReceipt {
	r := &WorkloadReceipt{}
	r.init(datasource, loadType)
	go func() {
		err := w.Wait(context.Background())
		if err != nil {
			err = eris.Wrapf(err, "receipt: %s of %q failed", loadType, datasource)
		}
		r.complete(err)
	}()
	return r
}

// FailedReceipt stands in for work that could not even be scheduled. It is
// complete from the moment it is created.
type FailedReceipt struct {
	base
}

// NewFailed returns a completed receipt carrying cause.
func NewFailed(datasource string, loadType model.LoadType, cause error) *FailedReceipt {
	if cause == nil {
		cause = eris.New("receipt: no cause recorded")
	}
	r := &FailedReceipt{}
	r.init(datasource, loadType)
	r.complete(eris.Wrapf(cause, "receipt: scheduling %s of %q failed", loadType, datasource))
	return r
}
