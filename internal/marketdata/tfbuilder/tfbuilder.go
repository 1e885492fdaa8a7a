// Package tfbuilder provides an incremental timeframe resampler.
// It consumes completed base-timeframe bars and maintains "forming" bars for
// each coarser timeframe, updated in O(1) per bar per timeframe. When a bar
// arrives in a new bucket, the previous forming bar is finalized and emitted.
package tfbuilder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chartcore/internal/model"
)

// ErrMisalignedTimeframe is returned for a target timeframe that is not a
// whole multiple of the base timeframe.
var ErrMisalignedTimeframe = errors.New("timeframe not a multiple of base")

// Update is one resampler emission.
type Update struct {
	TF      model.Timeframe
	Bar     model.Bar
	Count   int  // base bars folded into Bar
	Forming bool // false once the bucket closed
}

// tfState holds the forming bar for one timeframe.
type tfState struct {
	bucket  float64
	bar     model.Bar
	count   int
	started bool
}

// Builder resamples base bars into multiple timeframes.
// Designed to run in a single goroutine (single consumer).
type Builder struct {
	base   model.Timeframe
	tfs    []model.Timeframe
	states []tfState

	// Hooks (optional)
	OnBar      func(u Update)    // called on every finalized bar
	OnStaleBar func(b model.Bar) // called when a bar behind the forming bucket is rejected
}

// New creates a builder that derives tfs from bars of the base timeframe.
func New(base model.Timeframe, tfs []model.Timeframe) (*Builder, error) {
	if err := base.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[model.Timeframe]bool, len(tfs))
	for _, tf := range tfs {
		if err := CheckAligned(base, tf); err != nil {
			return nil, err
		}
		if seen[tf] {
			return nil, fmt.Errorf("%w: duplicate timeframe %s", model.ErrInvalidParameter, tf)
		}
		seen[tf] = true
	}
	return &Builder{
		base:   base,
		tfs:    append([]model.Timeframe(nil), tfs...),
		states: make([]tfState, len(tfs)),
	}, nil
}

// CheckAligned reports whether tf can be built from base bars.
func CheckAligned(base, tf model.Timeframe) error {
	if err := tf.Validate(); err != nil {
		return err
	}
	if tf < base || int(tf)%int(base) != 0 {
		return fmt.Errorf("%w: %s from %s", ErrMisalignedTimeframe, tf, base)
	}
	return nil
}

// Base returns the input timeframe.
func (b *Builder) Base() model.Timeframe { return b.base }

// TFs returns the enabled timeframes.
func (b *Builder) TFs() []model.Timeframe {
	return append([]model.Timeframe(nil), b.tfs...)
}

// Process folds one base bar into every timeframe and returns the
// emissions in timeframe order: a finalized bar if the bucket rolled over,
// then the forming snapshot. This is the hot path, O(1) per timeframe.
func (b *Builder) Process(bar model.Bar) []Update {
	out := make([]Update, 0, 2*len(b.tfs))
	for i, tf := range b.tfs {
		st := &b.states[i]
		bucket := tf.Bucket(bar.Timestamp)

		// A bar behind the forming bucket would corrupt a bar that has
		// already advanced; skip this timeframe for it.
		if st.started && bucket < st.bucket {
			if b.OnStaleBar != nil {
				b.OnStaleBar(bar)
			}
			continue
		}

		if st.started && bucket > st.bucket {
			// New bucket: finalize the forming bar
			done := Update{TF: tf, Bar: st.bar, Count: st.count}
			out = append(out, done)
			if b.OnBar != nil {
				b.OnBar(done)
			}
			st.started = false
		}

		if !st.started {
			*st = tfState{
				bucket:  bucket,
				started: true,
				count:   1,
				bar: model.Bar{
					Timestamp: bucket,
					Open:      bar.Open,
					High:      bar.High,
					Low:       bar.Low,
					Close:     bar.Close,
					Volume:    bar.Volume,
				},
			}
		} else {
			// Same bucket: merge OHLCV
			fb := &st.bar
			if bar.High > fb.High {
				fb.High = bar.High
			}
			if bar.Low < fb.Low {
				fb.Low = bar.Low
			}
			fb.Close = bar.Close
			fb.Volume += bar.Volume
			st.count++
		}

		// Forming snapshot is a copy, never the live state.
		out = append(out, Update{TF: tf, Bar: st.bar, Count: st.count, Forming: true})
	}
	return out
}

// Forming returns a copy of the forming bar for tf, if any.
func (b *Builder) Forming(tf model.Timeframe) (model.Bar, bool) {
	for i, t := range b.tfs {
		if t == tf && b.states[i].started {
			return b.states[i].bar, true
		}
	}
	return model.Bar{}, false
}

// Flush finalizes every forming bar and resets the builder.
func (b *Builder) Flush() []Update {
	var out []Update
	for i, tf := range b.tfs {
		st := &b.states[i]
		if st.started {
			out = append(out, Update{TF: tf, Bar: st.bar, Count: st.count})
		}
		*st = tfState{}
	}
	return out
}

// Run consumes base bars from barCh and sends every Update to outCh until
// ctx is cancelled or barCh is closed; forming bars are flushed on exit.
// Sends never block: a full outCh drops the update with a warning.
func (b *Builder) Run(ctx context.Context, barCh <-chan model.Bar, outCh chan<- Update) {
	for {
		select {
		case <-ctx.Done():
			b.emitAll(outCh, b.Flush())
			return
		case bar, ok := <-barCh:
			if !ok {
				b.emitAll(outCh, b.Flush())
				return
			}
			b.emitAll(outCh, b.Process(bar))
		}
	}
}

func (b *Builder) emitAll(outCh chan<- Update, ups []Update) {
	for _, u := range ups {
		select {
		case outCh <- u:
		default:
			slog.Warn("tfbuilder: outCh full, dropping bar",
				slog.String("tf", u.TF.String()),
				slog.Float64("ts", u.Bar.Timestamp),
				slog.Bool("forming", u.Forming))
		}
	}
}

// Resample converts a base-timeframe series into tf bars. The trailing
// partial bucket is included.
func Resample(bars []model.Bar, base, tf model.Timeframe) ([]model.Bar, error) {
	b, err := New(base, []model.Timeframe{tf})
	if err != nil {
		return nil, err
	}
	if tf == base {
		return append([]model.Bar(nil), bars...), nil
	}
	out := make([]model.Bar, 0, len(bars)*int(base)/int(tf)+1)
	for _, bar := range bars {
		for _, u := range b.Process(bar) {
			if !u.Forming {
				out = append(out, u.Bar)
			}
		}
	}
	for _, u := range b.Flush() {
		out = append(out, u.Bar)
	}
	return out, nil
}
