package indicator

import "chartcore/internal/model"

// EMA calculates Exponential Moving Average.
// O(1) per update, no window storage needed. The first value is the SMA of
// the first period prices unless Seed supplied one.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
	sum        float64
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) (*EMA, error) {
	if err := checkPeriod("EMA", period); err != nil {
		return nil, err
	}
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}, nil
}

// EMASeries computes the EMA of prices from a cold start.
func EMASeries(prices []float64, period int) ([]model.NullFloat, error) {
	e, err := NewEMA(period)
	if err != nil {
		return nil, err
	}
	return Calculate(e, prices), nil
}

func (e *EMA) Name() string { return indicatorName("EMA", e.period) }

// Period returns the smoothing period.
func (e *EMA) Period() int { return e.period }

// Multiplier returns the smoothing factor 2/(period+1).
func (e *EMA) Multiplier() float64 { return e.multiplier }

// Seed replaces the SMA warm-up with v. The EMA is ready immediately and the
// recurrence applies from the next price.
func (e *EMA) Seed(v float64) {
	e.current = v
	e.count = e.period
	e.sum = 0
}

func (e *EMA) Update(price float64) model.NullFloat {
	e.count++

	if e.count <= e.period {
		// Accumulate for initial SMA seed
		e.sum += price
		if e.count == e.period {
			e.current = e.sum / float64(e.period)
			return model.Some(e.current)
		}
		return model.None()
	}

	e.current = e.next(price)
	return model.Some(e.current)
}

// next applies EMA = (price - EMA_prev) * multiplier + EMA_prev.
func (e *EMA) next(price float64) float64 {
	return (price-e.current)*e.multiplier + e.current
}

func (e *EMA) Value() model.NullFloat {
	if !e.Ready() {
		return model.None()
	}
	return model.Some(e.current)
}

func (e *EMA) Ready() bool { return e.count >= e.period }

// Peek computes what Update would return for price without mutating state.
func (e *EMA) Peek(price float64) model.NullFloat {
	switch {
	case e.count+1 < e.period:
		return model.None()
	case e.count < e.period:
		return model.Some((e.sum + price) / float64(e.period))
	default:
		return model.Some(e.next(price))
	}
}

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
	e.sum = 0
}

// Snapshot serializes the EMA state for checkpoint persistence.
func (e *EMA) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    TypeEMA,
		Period:  e.period,
		Count:   e.count,
		Sum:     e.sum,
		Current: e.Value(),
	}
}

// RestoreFromSnapshot restores EMA state from a checkpoint.
func (e *EMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if err := snap.check(TypeEMA, e.period); err != nil {
		return err
	}
	if snap.Count >= e.period && !snap.Current.Valid {
		return errCorruptSnapshot(snap)
	}
	e.count = snap.Count
	e.sum = snap.Sum
	e.current = snap.Current.Float64
	return nil
}
