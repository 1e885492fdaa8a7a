// Package sim generates synthetic bars and ticks for demos and tests.
//
// Prices follow a bounded random walk. A Generator seeded with the same
// value always produces the same sequence.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"chartcore/internal/model"
	"chartcore/internal/ringbuf"
)

const (
	// barVolatility bounds each bar's close-to-close move as a fraction of price.
	barVolatility = 0.02
	// wickPct bounds how far high/low extend past the body.
	wickPct = 0.01

	minBarVolume  = 20_000_000
	maxBarVolume  = 80_000_000
	tickStep      = 1.0 // absolute price move bound per tick
	minTickVolume = 100
	maxTickVolume = 1000

	// floorPrice keeps the walk strictly positive.
	floorPrice = 1.0
)

// Generator is a seeded random-walk price source. It is not safe for
// concurrent use.
type Generator struct {
	rng   *rand.Rand
	price float64

	// Now stamps ticks emitted by Run. Defaults to time.Now.
	Now func() time.Time
}

// New creates a generator starting at startPrice.
func New(seed int64, startPrice float64) (*Generator, error) {
	if !(startPrice > 0) || math.IsInf(startPrice, 0) {
		return nil, fmt.Errorf("%w: start price must be positive, got %v", model.ErrInvalidParameter, startPrice)
	}
	return &Generator{
		rng:   rand.New(rand.NewSource(seed)),
		price: startPrice,
		Now:   time.Now,
	}, nil
}

// Price returns the current walk price.
func (g *Generator) Price() float64 { return g.price }

// Bars returns n consecutive bars of timeframe tf, the first opening at the
// bucket containing start. Each bar opens at the previous close.
func (g *Generator) Bars(n int, start float64, tf model.Timeframe) ([]model.Bar, error) {
	if err := tf.Validate(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: bar count %d", model.ErrInvalidParameter, n)
	}
	ts := tf.Bucket(start)
	bars := make([]model.Bar, n)
	for i := range bars {
		open := g.price
		last := math.Max(floorPrice, open+g.uniform(-barVolatility, barVolatility)*open)
		high := math.Max(open, last) + g.uniform(0, wickPct)*open
		low := math.Max(floorPrice/2, math.Min(open, last)-g.uniform(0, wickPct)*open)

		bars[i] = model.Bar{
			Timestamp: ts + float64(i)*tf.Seconds(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     last,
			Volume:    math.Round(g.uniform(minBarVolume, maxBarVolume)),
		}
		g.price = last
	}
	return bars, nil
}

// NextTick moves the price by at most tickStep and returns a tick at ts.
func (g *Generator) NextTick(ts float64) model.Tick {
	g.price = math.Max(floorPrice, g.price+g.uniform(-tickStep, tickStep))
	return model.Tick{
		Timestamp: ts,
		Price:     g.price,
		Volume:    math.Round(g.uniform(minTickVolume, maxTickVolume)),
	}
}

// Run pushes one tick into ring every interval until ctx is cancelled.
// A full ring drops the tick; the ring counts it.
func (g *Generator) Run(ctx context.Context, ring *ringbuf.Ring, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: tick interval must be positive, got %s", model.ErrInvalidParameter, interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("sim: generating ticks", slog.Duration("interval", interval), slog.Float64("price", g.price))
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if g.Now != nil {
				now = g.Now()
			}
			tick := g.NextTick(float64(now.UnixNano()) / 1e9)
			if !ring.Push(tick) {
				slog.Debug("sim: ring full, dropping tick", slog.Float64("ts", tick.Timestamp))
			}
		}
	}
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}
