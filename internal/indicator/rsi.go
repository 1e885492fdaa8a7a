package indicator

import "chartcore/internal/model"

// rsiZeroLossRS is the relative strength used when the average loss is zero.
// It yields RSI = 100 - 100/101, about 99.0099, rather than exactly 100.
const rsiZeroLossRS = 100.0

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Update is O(1) per price, no history scans.
//
// The first value is emitted once period price changes are known, that is at
// price index period. Before that the running gain and loss sums are kept;
// afterwards only the smoothed averages.
type RSI struct {
	period    int
	steps     int // price changes seen
	hasPrev   bool
	prevPrice float64
	avgGain   float64 // running sum until initialized, then the Wilder average
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) (*RSI, error) {
	if err := checkPeriod("RSI", period); err != nil {
		return nil, err
	}
	return &RSI{period: period}, nil
}

// RSISeries computes the RSI of prices from a cold start.
func RSISeries(prices []float64, period int) ([]model.NullFloat, error) {
	r, err := NewRSI(period)
	if err != nil {
		return nil, err
	}
	return Calculate(r, prices), nil
}

func (r *RSI) Name() string { return indicatorName("RSI", r.period) }

func (r *RSI) Update(price float64) model.NullFloat {
	if !r.hasPrev {
		// First price, no delta yet
		r.prevPrice = price
		r.hasPrev = true
		return model.None()
	}

	gain, loss := splitDelta(price - r.prevPrice)
	r.prevPrice = price
	r.steps++

	p := float64(r.period)
	switch {
	case r.steps < r.period:
		r.avgGain += gain
		r.avgLoss += loss
		return model.None()
	case r.steps == r.period:
		// First value: plain mean of the first period changes
		r.avgGain = (r.avgGain + gain) / p
		r.avgLoss = (r.avgLoss + loss) / p
	default:
		// Wilder's smoothing: avg = (prevAvg * (period-1) + x) / period
		r.avgGain = (r.avgGain*(p-1) + gain) / p
		r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	}

	r.current = rsiFrom(r.avgGain, r.avgLoss)
	return model.Some(r.current)
}

func (r *RSI) Value() model.NullFloat {
	if !r.Ready() {
		return model.None()
	}
	return model.Some(r.current)
}

func (r *RSI) Ready() bool { return r.steps >= r.period }

// Peek computes what RSI would be for price without mutating state.
func (r *RSI) Peek(price float64) model.NullFloat {
	if !r.hasPrev || r.steps+1 < r.period {
		return model.None()
	}
	gain, loss := splitDelta(price - r.prevPrice)
	p := float64(r.period)
	var ag, al float64
	if r.steps+1 == r.period {
		ag = (r.avgGain + gain) / p
		al = (r.avgLoss + loss) / p
	} else {
		ag = (r.avgGain*(p-1) + gain) / p
		al = (r.avgLoss*(p-1) + loss) / p
	}
	return model.Some(rsiFrom(ag, al))
}

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.steps = 0
	r.hasPrev = false
	r.prevPrice = 0
	r.avgGain = 0
	r.avgLoss = 0
	r.current = 0
}

func splitDelta(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	rs := rsiZeroLossRS
	if avgLoss != 0 {
		rs = avgGain / avgLoss
	}
	return 100.0 - (100.0 / (1.0 + rs))
}

// Snapshot serializes the RSI state for checkpoint persistence.
func (r *RSI) Snapshot() IndicatorSnapshot {
	snap := IndicatorSnapshot{
		Type:    TypeRSI,
		Period:  r.period,
		Count:   r.steps,
		AvgGain: r.avgGain,
		AvgLoss: r.avgLoss,
		Current: r.Value(),
	}
	if r.hasPrev {
		snap.PrevPrice = model.Some(r.prevPrice)
	}
	return snap
}

// RestoreFromSnapshot restores RSI state from a checkpoint.
func (r *RSI) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if err := snap.check(TypeRSI, r.period); err != nil {
		return err
	}
	if snap.Count > 0 && !snap.PrevPrice.Valid {
		return errCorruptSnapshot(snap)
	}
	r.steps = snap.Count
	r.prevPrice, r.hasPrev = snap.PrevPrice.Get()
	r.avgGain = snap.AvgGain
	r.avgLoss = snap.AvgLoss
	r.current = snap.Current.Float64
	return nil
}
