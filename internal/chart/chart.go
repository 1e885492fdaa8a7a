// Package chart coordinates the data flow between a bar history, the live
// tick aggregator, the indicator engine and the viewport downsampler.
//
// A Coordinator owns the complete base-timeframe history. Completed bars
// are final; at most one forming bar follows them. Display timeframes are
// resampled from the base bars, and the indicator engine always tracks the
// closed bars of the display timeframe.
package chart

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"chartcore/internal/downsample"
	"chartcore/internal/indicator"
	"chartcore/internal/logger"
	"chartcore/internal/marketdata/agg"
	"chartcore/internal/marketdata/tfbuilder"
	"chartcore/internal/metrics"
	"chartcore/internal/model"
)

// ErrOutOfOrderBar is returned when a bar does not come after the bars
// already held.
var ErrOutOfOrderBar = errors.New("out-of-order bar")

// Viewport defaults.
const (
	BaseVisibleBars = 100
	MinZoom         = 0.1
	MaxZoom         = 10.0
)

// Options configures a Coordinator.
type Options struct {
	Symbol     string
	Base       model.Timeframe
	Indicators []indicator.Config
	Mode       downsample.Mode
	// MaxBars caps the retained base history; 0 keeps everything.
	MaxBars int

	Metrics *metrics.Metrics // optional
	Logger  *slog.Logger     // optional, defaults to slog.Default()
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	mu sync.Mutex

	symbol  string
	base    model.Timeframe
	tf      model.Timeframe
	mode    downsample.Mode
	maxBars int

	bars    []model.Bar // completed base bars
	forming *model.Bar  // base bar still receiving ticks

	// Display timeframe state; builder is nil when tf == base.
	builder *tfbuilder.Builder
	closed  []model.Bar

	agg    *agg.Aggregator
	engine *indicator.Engine

	zoom float64
	pan  int

	m       *metrics.Metrics
	log     *slog.Logger
	traceID string
}

// New creates an empty coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Base == 0 {
		opts.Base = model.M1
	}
	a, err := agg.New(opts.Base)
	if err != nil {
		return nil, err
	}
	mode, err := downsample.ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	if opts.MaxBars < 0 {
		return nil, fmt.Errorf("%w: max bars %d", model.ErrInvalidParameter, opts.MaxBars)
	}
	eng, err := indicator.NewEngine(opts.Indicators)
	if err != nil {
		return nil, err
	}

	traceID := logger.GenerateTraceID(opts.Symbol, time.Now())
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Coordinator{
		symbol:  opts.Symbol,
		base:    opts.Base,
		tf:      opts.Base,
		mode:    mode,
		maxBars: opts.MaxBars,
		agg:     a,
		engine:  eng,
		zoom:    1,
		m:       opts.Metrics,
		log:     log.With(slog.String("trace_id", traceID), slog.String("symbol", opts.Symbol)),
		traceID: traceID,
	}
	if c.m != nil {
		c.m.BindAggregator(a)
	}
	return c, nil
}

// TraceID identifies this coordinator's session in logs.
func (c *Coordinator) TraceID() string { return c.traceID }

// Symbol returns the charted instrument.
func (c *Coordinator) Symbol() string { return c.symbol }

// ── History ──

// SetData replaces the history with bars, which must be valid and in
// strictly increasing timestamp order. Every bar is treated as completed.
// The view pans back to the start.
func (c *Coordinator) SetData(bars []model.Bar) error {
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
		if i > 0 && b.Timestamp <= bars[i-1].Timestamp {
			return fmt.Errorf("%w: bar %d at %v follows %v", ErrOutOfOrderBar, i, b.Timestamp, bars[i-1].Timestamp)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.bars = append(c.bars[:0:0], bars...)
	c.trim()
	c.forming = nil
	c.agg.Reset()
	c.pan = 0
	if err := c.rebuild(); err != nil {
		return err
	}
	c.log.Info("chart: history loaded",
		slog.Int("bars", len(c.bars)),
		slog.String("tf", c.tf.String()))
	return nil
}

// Append adds a completed bar, snapped to the start of its base bucket.
// A forming bar in the same bucket is replaced by it; a forming bar in an
// earlier bucket is completed first.
func (c *Coordinator) Append(bar model.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	bar.Timestamp = c.base.Bucket(bar.Timestamp)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAfterCompleted(bar.Timestamp); err != nil {
		return err
	}
	if c.forming != nil {
		switch {
		case bar.Timestamp < c.forming.Timestamp:
			return fmt.Errorf("%w: bar at %v precedes forming bar at %v",
				ErrOutOfOrderBar, bar.Timestamp, c.forming.Timestamp)
		case bar.Timestamp > c.forming.Timestamp:
			c.commit(*c.forming)
		}
		c.forming = nil
		c.agg.Reset()
	}
	c.commit(bar)
	return nil
}

// UpdateLast sets the forming bar. Ticks in its bucket keep extending it.
// A forming bar in an earlier bucket is completed first.
func (c *Coordinator) UpdateLast(bar model.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAfterCompleted(c.base.Bucket(bar.Timestamp)); err != nil {
		return err
	}
	if c.forming != nil {
		if bar.Timestamp < c.forming.Timestamp {
			return fmt.Errorf("%w: bar at %v precedes forming bar at %v",
				ErrOutOfOrderBar, bar.Timestamp, c.forming.Timestamp)
		}
		if c.base.Bucket(bar.Timestamp) > c.forming.Timestamp {
			c.commit(*c.forming)
		}
	}
	if err := c.agg.Resume(bar); err != nil {
		return err
	}
	cur, _ := c.agg.Current()
	c.forming = &cur
	return nil
}

// IngestTick folds a live tick into the forming bar. A tick in a later
// bucket completes the forming bar. Ticks at or before the last completed
// bar are rejected with agg.ErrOutOfOrderTick.
func (c *Coordinator) IngestTick(tick model.Tick) (agg.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.bars); n > 0 && c.forming == nil {
		if last := c.bars[n-1].Timestamp; c.base.Bucket(tick.Timestamp) <= last {
			if c.m != nil {
				c.m.OutOfOrderTicks.Inc()
				c.m.RejectedTicks.Inc()
			}
			return agg.Result{}, fmt.Errorf("%w: tick at %v not after completed bar %v",
				agg.ErrOutOfOrderTick, tick.Timestamp, last)
		}
	}

	res, err := c.agg.Ingest(tick)
	if err != nil {
		if c.m != nil {
			c.m.RejectedTicks.Inc()
		}
		return agg.Result{}, err
	}
	if c.m != nil {
		c.m.TicksTotal.Inc()
	}
	if res.Completed != nil {
		c.commit(*res.Completed)
	}
	updated := res.Updated
	c.forming = &updated
	return res, nil
}

// checkAfterCompleted rejects ts at or before the last completed bar.
func (c *Coordinator) checkAfterCompleted(ts float64) error {
	if n := len(c.bars); n > 0 && ts <= c.bars[n-1].Timestamp {
		return fmt.Errorf("%w: bar at %v not after %v", ErrOutOfOrderBar, ts, c.bars[n-1].Timestamp)
	}
	return nil
}

// commit appends a completed base bar and feeds whatever display bars it
// closes into the engine.
func (c *Coordinator) commit(bar model.Bar) {
	c.bars = append(c.bars, bar)
	if c.builder == nil {
		c.feed(bar)
	} else {
		for _, u := range c.builder.Process(bar) {
			if !u.Forming {
				c.closed = append(c.closed, u.Bar)
				c.feed(u.Bar)
			}
		}
	}
	if c.trim() {
		c.resync()
	}
}

func (c *Coordinator) feed(bar model.Bar) {
	start := time.Now()
	res := c.engine.Process(bar)
	if c.m != nil {
		c.m.IndicatorComputeDur.Observe(time.Since(start).Seconds())
		c.m.IndicatorsTotal.Add(float64(len(res)))
	}
}

// trim drops the oldest bars beyond maxBars. It reports whether closed
// display bars were dropped, which leaves the engine ahead of the history.
func (c *Coordinator) trim() bool {
	if c.maxBars <= 0 {
		return false
	}
	dropped := false
	if over := len(c.bars) - c.maxBars; over > 0 {
		c.bars = append(c.bars[:0:0], c.bars[over:]...)
		dropped = c.builder == nil
	}
	if over := len(c.closed) - c.maxBars; over > 0 {
		c.closed = append(c.closed[:0:0], c.closed[over:]...)
		dropped = true
	}
	return dropped
}

// resync replays the retained closed display bars into a reset engine so
// its state matches a series computed over the trimmed history.
func (c *Coordinator) resync() {
	closed := c.bars
	if c.builder != nil {
		closed = c.closed
	}
	c.engine.Reset()
	for _, b := range closed {
		c.engine.Process(b)
	}
}

// rebuild recomputes display bars and engine state from the base history.
func (c *Coordinator) rebuild() error {
	c.engine.Reset()
	c.closed = nil
	c.builder = nil
	if c.tf == c.base {
		for _, b := range c.bars {
			c.feed(b)
		}
		return nil
	}

	b, err := tfbuilder.New(c.base, []model.Timeframe{c.tf})
	if err != nil {
		return err
	}
	if c.m != nil {
		c.m.BindBuilder(b)
	}
	c.builder = b
	for _, bar := range c.bars {
		for _, u := range b.Process(bar) {
			if !u.Forming {
				c.closed = append(c.closed, u.Bar)
				c.feed(u.Bar)
			}
		}
	}
	return nil
}

// display returns closed display bars followed by the open ones.
func (c *Coordinator) display() (bars []model.Bar, open int) {
	if c.builder == nil {
		if c.forming == nil {
			return c.bars, 0
		}
		out := make([]model.Bar, 0, len(c.bars)+1)
		out = append(out, c.bars...)
		return append(out, *c.forming), 1
	}

	tail := c.openDisplay()
	out := make([]model.Bar, 0, len(c.closed)+len(tail))
	out = append(out, c.closed...)
	return append(out, tail...), len(tail)
}

// openDisplay merges the builder's forming bucket with the forming base bar.
func (c *Coordinator) openDisplay() []model.Bar {
	var out []model.Bar
	fb, ok := c.builder.Forming(c.tf)
	if c.forming == nil {
		if ok {
			out = append(out, fb)
		}
		return out
	}

	live := *c.forming
	bucket := c.tf.Bucket(live.Timestamp)
	if ok && fb.Timestamp == bucket {
		return append(out, mergeBar(fb, live))
	}
	if ok {
		out = append(out, fb)
	}
	live.Timestamp = bucket
	return append(out, live)
}

func mergeBar(into, b model.Bar) model.Bar {
	into.High = math.Max(into.High, b.High)
	into.Low = math.Min(into.Low, b.Low)
	into.Close = b.Close
	into.Volume += b.Volume
	return into
}

// Bars returns a copy of the display bars, the open bar last.
func (c *Coordinator) Bars() []model.Bar {
	c.mu.Lock()
	defer c.mu.Unlock()
	bars, _ := c.display()
	return append([]model.Bar(nil), bars...)
}

// Forming returns the forming base bar, if any.
func (c *Coordinator) Forming() (model.Bar, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forming == nil {
		return model.Bar{}, false
	}
	return *c.forming, true
}
