// Package agg folds a tick stream into fixed-duration OHLCV bars.
//
// The aggregator owns exactly one open bar. Every emission hands the caller
// an independent copy, so later in-place updates of the open bar can never
// change a bar the caller has already observed.
package agg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"chartcore/internal/model"
)

// ErrOutOfOrderTick is returned for a tick whose bucket precedes the open
// bar's bucket. The open bar is left untouched.
var ErrOutOfOrderTick = errors.New("out-of-order tick")

// Result is the outcome of one Ingest call.
type Result struct {
	// Updated is a snapshot of the open bar after the tick was applied.
	Updated model.Bar
	// Completed is set when the tick rolled the open bar over into a new
	// bucket; it is the final state of the previous bar.
	Completed *model.Bar
}

// Aggregator builds bars for one timeframe. It is not safe for concurrent
// use; the owner serializes calls.
type Aggregator struct {
	tf     model.Timeframe
	open   bool
	bucket float64
	bar    model.Bar
	ticks  int

	// Hooks (optional, set externally)
	OnOutOfOrderTick func(tick model.Tick)
	OnBarCompleted   func(bar model.Bar)
}

// New creates an Aggregator for the given bucket duration.
func New(tf model.Timeframe) (*Aggregator, error) {
	if err := tf.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{tf: tf}, nil
}

// Timeframe returns the configured bucket duration.
func (a *Aggregator) Timeframe() model.Timeframe { return a.tf }

// Ingest applies one tick.
//
//   - no open bar: a bar is opened at the tick's bucket;
//   - same bucket: high/low/close/volume are updated in place;
//   - later bucket: the open bar is returned as Completed and a fresh bar is
//     opened for the tick;
//   - earlier bucket: ErrOutOfOrderTick, state unchanged.
func (a *Aggregator) Ingest(tick model.Tick) (Result, error) {
	if err := validateTick(tick); err != nil {
		return Result{}, err
	}
	bucket := a.tf.Bucket(tick.Timestamp)

	if a.open && bucket < a.bucket {
		if a.OnOutOfOrderTick != nil {
			a.OnOutOfOrderTick(tick)
		}
		return Result{}, fmt.Errorf("%w: tick bucket %v precedes open bucket %v",
			ErrOutOfOrderTick, bucket, a.bucket)
	}

	var completed *model.Bar
	if a.open && bucket > a.bucket {
		prev := a.bar
		completed = &prev
		a.open = false
		if a.OnBarCompleted != nil {
			a.OnBarCompleted(prev)
		}
	}

	if !a.open {
		a.bucket = bucket
		a.bar = model.Bar{
			Timestamp: bucket,
			Open:      tick.Price,
			High:      tick.Price,
			Low:       tick.Price,
			Close:     tick.Price,
		}
		a.ticks = 0
		a.open = true
	}

	a.apply(tick)
	return Result{Updated: a.bar, Completed: completed}, nil
}

func (a *Aggregator) apply(tick model.Tick) {
	b := &a.bar
	if tick.Price > b.High {
		b.High = tick.Price
	}
	if tick.Price < b.Low {
		b.Low = tick.Price
	}
	b.Close = tick.Price
	b.Volume += tick.Volume
	a.ticks++
}

// Current returns a copy of the open bar, if any.
func (a *Aggregator) Current() (model.Bar, bool) {
	return a.bar, a.open
}

// Ticks returns how many ticks were folded into the open bar.
func (a *Aggregator) Ticks() int { return a.ticks }

// Resume makes bar the open bar, so ticks in its bucket keep extending it.
// The bar's timestamp is snapped to its bucket start.
func (a *Aggregator) Resume(bar model.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	a.bucket = a.tf.Bucket(bar.Timestamp)
	a.bar = bar
	a.bar.Timestamp = a.bucket
	a.ticks = 0
	a.open = true
	return nil
}

// Reset drops the open bar; the next tick starts fresh.
func (a *Aggregator) Reset() {
	a.open = false
	a.bucket = 0
	a.bar = model.Bar{}
	a.ticks = 0
}

// Run consumes ticks from tickCh and sends each Result to outCh until ctx is
// cancelled or tickCh is closed. Rejected ticks are logged and skipped.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.Tick, outCh chan<- Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-tickCh:
			if !ok {
				return
			}
			res, err := a.Ingest(tick)
			if err != nil {
				slog.Debug("agg: tick rejected", slog.Any("err", err), slog.Float64("ts", tick.Timestamp))
				continue
			}
			select {
			case outCh <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

func validateTick(t model.Tick) error {
	if math.IsNaN(t.Timestamp) || math.IsInf(t.Timestamp, 0) ||
		math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return fmt.Errorf("%w: non-finite tick", model.ErrInvalidParameter)
	}
	if math.IsNaN(t.Volume) || math.IsInf(t.Volume, 0) || t.Volume < 0 {
		return fmt.Errorf("%w: tick volume %v", model.ErrInvalidParameter, t.Volume)
	}
	return nil
}
