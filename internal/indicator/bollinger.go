package indicator

import (
	"encoding/json"
	"fmt"
	"math"

	"chartcore/internal/model"
)

// Default Bollinger parameters.
const (
	DefaultBollingerPeriod = 20
	DefaultBollingerK      = 2.0
)

// Band is one Bollinger Bands sample. All three lines are present together
// or absent together.
type Band struct {
	Upper  float64
	Middle float64
	Lower  float64
	Valid  bool
}

type bandJSON struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// MarshalJSON encodes an absent band as null.
func (b Band) MarshalJSON() ([]byte, error) {
	if !b.Valid {
		return jsonNull, nil
	}
	return json.Marshal(bandJSON{Upper: b.Upper, Middle: b.Middle, Lower: b.Lower})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Band) UnmarshalJSON(data []byte) error {
	var v *bandJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v == nil {
		*b = Band{}
		return nil
	}
	*b = Band{Upper: v.Upper, Middle: v.Middle, Lower: v.Lower, Valid: true}
	return nil
}

var jsonNull = []byte("null")

// Bollinger calculates Bollinger Bands: an SMA middle line with upper and
// lower lines k population standard deviations away.
//
// It satisfies Indicator with the middle line as its value; UpdateBand and
// Band expose all three lines.
type Bollinger struct {
	sma  *SMA
	k    float64
	band Band
}

// NewBollinger creates Bollinger Bands over period with width k.
func NewBollinger(period int, k float64) (*Bollinger, error) {
	if err := checkPeriod("BB", period); err != nil {
		return nil, err
	}
	if math.IsNaN(k) || math.IsInf(k, 0) || k < 0 {
		return nil, fmt.Errorf("%w: BB k must be a non-negative number, got %v", model.ErrInvalidParameter, k)
	}
	sma, err := NewSMA(period)
	if err != nil {
		return nil, err
	}
	return &Bollinger{sma: sma, k: k}, nil
}

// BollingerSeries computes Bollinger Bands of prices from a cold start.
func BollingerSeries(prices []float64, period int, k float64) ([]Band, error) {
	b, err := NewBollinger(period, k)
	if err != nil {
		return nil, err
	}
	out := make([]Band, len(prices))
	for i, p := range prices {
		out[i] = b.UpdateBand(p)
	}
	return out, nil
}

func (b *Bollinger) Name() string { return indicatorName("BB", b.sma.period) }

// Period returns the window length.
func (b *Bollinger) Period() int { return b.sma.period }

// K returns the band width in standard deviations.
func (b *Bollinger) K() float64 { return b.k }

// UpdateBand feeds price and returns the band at that index.
func (b *Bollinger) UpdateBand(price float64) Band {
	mid := b.sma.Update(price)
	if !mid.Valid {
		b.band = Band{}
		return b.band
	}
	b.band = b.bandAround(mid.Float64, b.sma.buf)
	return b.band
}

// Band returns the band after the most recent update.
func (b *Bollinger) Band() Band { return b.band }

func (b *Bollinger) Update(price float64) model.NullFloat {
	return middle(b.UpdateBand(price))
}

func (b *Bollinger) Value() model.NullFloat { return middle(b.band) }
func (b *Bollinger) Ready() bool            { return b.sma.Ready() }

// PeekBand computes the band for price without mutating state.
func (b *Bollinger) PeekBand(price float64) Band {
	mid := b.sma.Peek(price)
	if !mid.Valid {
		return Band{}
	}
	window := make([]float64, b.sma.period)
	copy(window, b.sma.buf)
	window[b.sma.idx] = price
	return b.bandAround(mid.Float64, window)
}

func (b *Bollinger) Peek(price float64) model.NullFloat {
	return middle(b.PeekBand(price))
}

// Reset clears the Bollinger state for reuse.
func (b *Bollinger) Reset() {
	b.sma.Reset()
	b.band = Band{}
}

// bandAround computes the population deviation of window around mean.
// Two passes over the window keep the variance non-negative.
func (b *Bollinger) bandAround(mean float64, window []float64) Band {
	variance := 0.0
	for _, v := range window {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(window))
	sd := math.Sqrt(variance)
	return Band{
		Upper:  mean + b.k*sd,
		Middle: mean,
		Lower:  mean - b.k*sd,
		Valid:  true,
	}
}

func middle(b Band) model.NullFloat {
	if !b.Valid {
		return model.None()
	}
	return model.Some(b.Middle)
}

// Snapshot serializes the Bollinger state for checkpoint persistence.
func (b *Bollinger) Snapshot() IndicatorSnapshot {
	snap := b.sma.Snapshot()
	snap.Type = TypeBB
	snap.K = b.k
	return snap
}

// RestoreFromSnapshot restores Bollinger state from a checkpoint.
func (b *Bollinger) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if err := snap.check(TypeBB, b.sma.period); err != nil {
		return err
	}
	if snap.K != b.k {
		return fmt.Errorf("%w: snapshot k %v, indicator k %v", ErrSnapshotMismatch, snap.K, b.k)
	}
	inner := snap
	inner.Type = TypeSMA
	if err := b.sma.RestoreFromSnapshot(inner); err != nil {
		return err
	}
	b.band = Band{}
	if mid := b.sma.Value(); mid.Valid {
		b.band = b.bandAround(mid.Float64, b.sma.buf)
	}
	return nil
}
