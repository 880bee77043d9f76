// Package monitoring watches load outcomes and raises webhook alerts when
// loading starts to fail.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/EBISPOT/zooma-sub003/internal/model"
	"github.com/EBISPOT/zooma-sub003/internal/receipt"
)

// receiptScanLimit bounds how many persisted receipts one snapshot reads.
const receiptScanLimit = 10000

// Snapshot holds a point-in-time view of loading health.
type Snapshot struct {
	// Datasource and item loads completed within the lookback window.
	LoadsTotal      int     `json:"loads_total"`
	LoadsSuccessful int     `json:"loads_successful"`
	LoadsFailed     int     `json:"loads_failed"`
	LoadsFailRate   float64 `json:"loads_fail_rate"`

	// Failed loads per datasource name.
	FailedDatasources map[string]int `json:"failed_datasources,omitempty"`

	// Load-all batches completed within the lookback window.
	BatchesTotal  int `json:"batches_total"`
	BatchesFailed int `json:"batches_failed"`

	// Receipts registered in this process that have not completed.
	InFlight int `json:"in_flight"`

	// Current annotations in the store.
	Annotations int `json:"annotations"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ReceiptSource is the part of the store the collector reads.
type ReceiptSource interface {
	ListReceipts(ctx context.Context, limit int) ([]receipt.Status, error)
	Count(ctx context.Context) (int, error)
}

// LiveReceipts lists receipts held in memory, typically a receipt.Registry.
type LiveReceipts interface {
	All() []receipt.Status
}

// Collector gathers snapshots from persisted and live receipts.
type Collector struct {
	source ReceiptSource
	live   LiveReceipts
}

// NewCollector creates a collector. live may be nil.
func NewCollector(source ReceiptSource, live LiveReceipts) *Collector {
	return &Collector{source: source, live: live}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := time.Now().UTC()
	snap := &Snapshot{
		FailedDatasources: make(map[string]int),
		LookbackHours:     lookbackHours,
		CollectedAt:       now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	statuses, err := c.source.ListReceipts(ctx, receiptScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list receipts")
	}

	for _, st := range statuses {
		if st.Completed.Before(cutoff) {
			continue
		}
		if st.LoadType == model.LoadAll {
			snap.BatchesTotal++
			if !st.Successful {
				snap.BatchesFailed++
			}
			continue
		}
		snap.LoadsTotal++
		if st.Successful {
			snap.LoadsSuccessful++
		} else {
			snap.LoadsFailed++
			snap.FailedDatasources[st.Datasource]++
		}
	}
	if snap.LoadsTotal > 0 {
		snap.LoadsFailRate = float64(snap.LoadsFailed) / float64(snap.LoadsTotal)
	}

	if c.live != nil {
		for _, st := range c.live.All() {
			if !st.Complete {
				snap.InFlight++
			}
		}
	}

	n, err := c.source.Count(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count annotations")
	}
	snap.Annotations = n

	return snap, nil
}
