package model

import (
	"fmt"
	"math"
	"time"
)

// Bar is an OHLCV aggregate over one timeframe bucket.
// Timestamp is the bucket start in Unix seconds.
type Bar struct {
	Timestamp float64 `json:"timestamp" msgpack:"timestamp"`
	Open      float64 `json:"open" msgpack:"open"`
	High      float64 `json:"high" msgpack:"high"`
	Low       float64 `json:"low" msgpack:"low"`
	Close     float64 `json:"close" msgpack:"close"`
	Volume    float64 `json:"volume" msgpack:"volume"`
}

// Time returns the bucket start as a UTC time.Time.
func (b Bar) Time() time.Time {
	return secondsToTime(b.Timestamp)
}

// IsGreen reports whether the bar closed at or above its open.
func (b Bar) IsGreen() bool { return b.Close >= b.Open }

// BodyHigh is the top of the candle body.
func (b Bar) BodyHigh() float64 { return math.Max(b.Open, b.Close) }

// BodyLow is the bottom of the candle body.
func (b Bar) BodyLow() float64 { return math.Min(b.Open, b.Close) }

// Range is the full high-low extent, wicks included.
func (b Bar) Range() float64 { return b.High - b.Low }

// BodyHeight is the absolute open-close distance.
func (b Bar) BodyHeight() float64 { return math.Abs(b.Close - b.Open) }

// Validate checks the OHLCV invariants:
// low <= min(open, close) <= max(open, close) <= high, volume >= 0,
// and every field finite.
func (b Bar) Validate() error {
	for _, v := range [...]float64{b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: bar at %v has non-finite field", ErrInvalidParameter, b.Timestamp)
		}
	}
	if b.Low > b.BodyLow() || b.BodyHigh() > b.High {
		return fmt.Errorf("%w: bar at %v violates low<=body<=high (o=%v h=%v l=%v c=%v)",
			ErrInvalidParameter, b.Timestamp, b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: bar at %v has negative volume %v", ErrInvalidParameter, b.Timestamp, b.Volume)
	}
	return nil
}

// Closes extracts the close price of every bar, index-aligned with bars.
func Closes(bars []Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}
