package chart

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"chartcore/internal/downsample"
	"chartcore/internal/indicator"
	"chartcore/internal/logger"
	"chartcore/internal/marketdata/tfbuilder"
	"chartcore/internal/model"
	"chartcore/internal/ringbuf"
)

// ── Viewport ──

// SetZoom sets the zoom scale, clamped to [MinZoom, MaxZoom]. The visible
// bar count is BaseVisibleBars/zoom.
func (c *Coordinator) SetZoom(scale float64) error {
	if math.IsNaN(scale) {
		return fmt.Errorf("%w: zoom is NaN", model.ErrInvalidParameter)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zoom = math.Max(MinZoom, math.Min(MaxZoom, scale))
	return nil
}

// Zoom returns the current zoom scale.
func (c *Coordinator) Zoom() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zoom
}

// Pan shifts the window by byBars, clamped so the window stays inside the
// history. Positive values move toward newer bars.
func (c *Coordinator) Pan(byBars int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bars, _ := c.display()
	maxOffset := len(bars) - c.visibleCount()
	if maxOffset < 0 {
		maxOffset = 0
	}
	c.pan = clampInt(c.pan+byBars, 0, maxOffset)
}

// ResetView restores zoom 1 and pans back to the start.
func (c *Coordinator) ResetView() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zoom = 1
	c.pan = 0
}

func (c *Coordinator) visibleCount() int {
	return int(BaseVisibleBars / c.zoom)
}

// window returns the visible index range [start, end) over n display bars.
func (c *Coordinator) window(n int) (start, end int) {
	visible := c.visibleCount()
	start = n - visible
	if c.pan < start {
		start = c.pan
	}
	if start < 0 {
		start = 0
	}
	end = start + visible
	if end > n {
		end = n
	}
	return start, end
}

// Window returns the visible index range [start, end) into Bars().
func (c *Coordinator) Window() (start, end int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bars, _ := c.display()
	return c.window(len(bars))
}

// Visible returns a copy of the bars inside the viewport.
func (c *Coordinator) Visible() []model.Bar {
	c.mu.Lock()
	defer c.mu.Unlock()
	bars, _ := c.display()
	start, end := c.window(len(bars))
	return append([]model.Bar(nil), bars[start:end]...)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ── Timeframe ──

// Timeframe returns the display timeframe.
func (c *Coordinator) Timeframe() model.Timeframe {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tf
}

// SetTimeframe switches the display timeframe. tf must be a whole multiple
// of the base timeframe. Indicator state is rebuilt from the history.
func (c *Coordinator) SetTimeframe(tf model.Timeframe) error {
	if err := tfbuilder.CheckAligned(c.base, tf); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setTimeframe(tf)
}

func (c *Coordinator) setTimeframe(tf model.Timeframe) error {
	if tf == c.tf {
		return nil
	}
	prev := c.tf
	c.tf = tf
	if err := c.rebuild(); err != nil {
		c.tf = prev
		if rerr := c.rebuild(); rerr != nil {
			c.log.Error("chart: restoring timeframe failed", slog.Any("err", rerr))
		}
		return err
	}
	c.log.Debug("chart: timeframe changed",
		slog.String("from", prev.String()),
		slog.String("to", tf.String()))
	return nil
}

// CycleTimeframeUp moves to the next coarser standard timeframe.
func (c *Coordinator) CycleTimeframeUp() (model.Timeframe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.tf.Next()
	if err := tfbuilder.CheckAligned(c.base, next); err != nil {
		return c.tf, err
	}
	err := c.setTimeframe(next)
	return c.tf, err
}

// CycleTimeframeDown moves to the next finer standard timeframe, stopping
// at the base timeframe.
func (c *Coordinator) CycleTimeframeDown() (model.Timeframe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.tf.Previous()
	if prev < c.base {
		return c.tf, nil
	}
	if err := tfbuilder.CheckAligned(c.base, prev); err != nil {
		return c.tf, err
	}
	err := c.setTimeframe(prev)
	return c.tf, err
}

// ── Overlays ──

// ToggleOverlay enables cfg if absent and disables it otherwise. It
// reports whether cfg is enabled afterwards. Other overlays keep their
// state; a newly enabled one is warmed on the closed display bars.
func (c *Coordinator) ToggleOverlay(cfg indicator.Config) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.engine.Configs()
	next := make([]indicator.Config, 0, len(cur)+1)
	found := false
	for _, existing := range cur {
		if indicator.EqualConfigs([]indicator.Config{existing}, []indicator.Config{cfg}) {
			found = true
			continue
		}
		next = append(next, existing)
	}
	if !found {
		next = append(next, cfg)
	}

	bars, open := c.display()
	history := model.Closes(bars[:len(bars)-open])
	if _, _, err := c.engine.ReloadWarm(next, history); err != nil {
		return found, err
	}
	c.log.Debug("chart: overlay toggled",
		slog.String("overlay", cfg.Name()),
		slog.Bool("enabled", !found))
	return !found, nil
}

// Overlays returns the enabled indicator configs.
func (c *Coordinator) Overlays() []indicator.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Configs()
}

// Indicators computes every enabled indicator over the full display
// history, index-aligned with Bars().
func (c *Coordinator) Indicators() []indicator.Series {
	c.mu.Lock()
	defer c.mu.Unlock()
	bars, _ := c.display()
	return c.engine.Series(model.Closes(bars))
}

// Latest returns live indicator values: a peek through the open display
// bars if there are any, else the values as of the last closed bar.
func (c *Coordinator) Latest() []indicator.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	bars, open := c.display()
	return c.live(bars, open)
}

// live peeks the newest display bar. Right after a display bucket rolls
// over the builder still holds the previous bucket open, so every open bar
// ahead of the newest one is run through first.
func (c *Coordinator) live(bars []model.Bar, open int) []indicator.Result {
	if open == 0 {
		return c.engine.Latest()
	}
	res, err := c.engine.PeekAhead(bars[len(bars)-open:])
	if err != nil {
		c.log.Warn("chart: live peek failed", slog.Any("err", err))
		return c.engine.ProcessPeek(bars[len(bars)-1])
	}
	return res
}

// ── Render ──

// Frame is everything a renderer needs to paint one viewport.
type Frame struct {
	Symbol    string          `json:"symbol"`
	Timeframe model.Timeframe `json:"timeframe"`
	// Bars is the visible window reduced for the pixel width.
	Bars []model.Bar    `json:"bars"`
	Plan downsample.Plan `json:"plan"`
	// Start and End bound the visible window in Bars() indexes.
	Start int `json:"start"`
	End   int `json:"end"`
	// Indicators are sliced to [Start, End), so index i lines up with
	// the i-th visible bar before reduction.
	Indicators []indicator.Series `json:"indicators"`
	Live       []indicator.Result `json:"live"`
	Summary    Summary            `json:"summary"`
}

// Render builds a Frame for a plot pixelWidth pixels wide.
func (c *Coordinator) Render(pixelWidth int) (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bars, open := c.display()
	start, end := c.window(len(bars))
	visible := bars[start:end]

	t0 := time.Now()
	out, plan, err := downsample.ForViewport(visible, pixelWidth, c.mode)
	if err != nil {
		return Frame{}, err
	}
	if c.m != nil {
		c.m.DownsampleDur.WithLabelValues(plan.Algorithm).Observe(time.Since(t0).Seconds())
		c.m.RenderedBars.Set(float64(len(out)))
	}

	series := c.engine.Series(model.Closes(bars))
	for i := range series {
		series[i].Values = series[i].Values[start:end]
		if series[i].Bands != nil {
			series[i].Bands = series[i].Bands[start:end]
		}
	}

	live := c.live(bars, open)

	return Frame{
		Symbol:     c.symbol,
		Timeframe:  c.tf,
		Bars:       out,
		Plan:       plan,
		Start:      start,
		End:        end,
		Indicators: series,
		Live:       live,
		Summary:    c.summary(visible, open > 0),
	}, nil
}

// ── HUD ──

// Summary is the heads-up display for the visible window.
type Summary struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Price     decimal.Decimal `json:"price"`
	First     decimal.Decimal `json:"first"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Bars      int             `json:"bars"`
	Live      bool            `json:"live"`
}

// Summary reports the last and first visible closes and the percent change
// between them, each rounded to two places. The change is 0 when the first
// close is 0.
func (c *Coordinator) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	bars, open := c.display()
	start, end := c.window(len(bars))
	return c.summary(bars[start:end], open > 0)
}

func (c *Coordinator) summary(visible []model.Bar, live bool) Summary {
	s := Summary{
		Symbol:    c.symbol,
		Timeframe: c.tf.Label(),
		Bars:      len(visible),
		Live:      live,
	}
	if len(visible) == 0 {
		return s
	}
	last := decimal.NewFromFloat(visible[len(visible)-1].Close)
	first := decimal.NewFromFloat(visible[0].Close)
	s.Price = last.Round(2)
	s.First = first.Round(2)
	if !first.IsZero() {
		s.ChangePct = last.Sub(first).Div(first).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return s
}

// ── Live loop ──

// Run drains ring every interval and ingests the ticks until ctx is
// cancelled. Rejected ticks are logged and skipped.
func (c *Coordinator) Run(ctx context.Context, ring *ringbuf.Ring, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: drain interval must be positive, got %s", model.ErrInvalidParameter, interval)
	}
	ctx = logger.WithTraceID(ctx, c.traceID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.log.Info("chart: live loop started", slog.Duration("interval", interval))
	drain := func() {
		ring.Drain(func(t model.Tick) {
			if _, err := c.IngestTick(t); err != nil {
				slog.Debug("chart: tick rejected",
					append(logger.LogWithTrace(ctx), slog.Any("err", err), slog.Float64("ts", t.Timestamp))...)
			}
		})
	}
	for {
		select {
		case <-ctx.Done():
			drain()
			c.log.Info("chart: live loop stopped", slog.Int("bars", c.barCount()))
			return nil
		case <-ticker.C:
			drain()
		}
	}
}

func (c *Coordinator) barCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bars)
}
