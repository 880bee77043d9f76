package receipt

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/EBISPOT/zooma-sub003/internal/model"
)

// ErrAlreadyFinished is returned when a composite is changed after Finish.
var ErrAlreadyFinished = eris.New("receipt: finish() has already been called")

// Composite aggregates child receipts. It completes only after Finish has
// been called and every child has completed, so waiters never observe an
// aggregate that is still being assembled.
type Composite struct {
	base

	children []Receipt
	finished bool
}

// NewComposite creates an empty composite receipt.
func NewComposite(datasource string, loadType model.LoadType) *Composite {
	c := &Composite{}
	c.init(datasource, loadType)
	return c
}

// Add appends a child receipt.
func (c *Composite) Add(r Receipt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return ErrAlreadyFinished
	}
	c.children = append(c.children, r)
	return nil
}

// Finish signals that no more children will be added. Call it exactly once,
// after the last Add; a second call returns ErrAlreadyFinished.
func (c *Composite) Finish() error {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return ErrAlreadyFinished
	}
	c.finished = true
	children := make([]Receipt, len(c.children))
	copy(children, c.children)
	c.mu.Unlock()

	go c.await(children)
	return nil
}

// Finished reports whether Finish has been called.
func (c *Composite) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

// Children returns a snapshot of the child receipts in addition order.
func (c *Composite) Children() []Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Receipt, len(c.children))
	copy(out, c.children)
	return out
}

// await waits on every child in addition order. All children are waited on
// even after a failure; the first failure becomes the composite's outcome.
func (c *Composite) await(children []Receipt) {
	var first error
	for _, child := range children {
		if err := child.Wait(context.Background()); err != nil && first == nil {
			first = eris.Wrapf(err, "receipt: %s of %q has a failed part", c.loadType, c.datasource)
		}
	}
	c.complete(first)
}
