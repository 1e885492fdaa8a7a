package indicator

import "chartcore/internal/model"

// smaRecomputeEvery bounds floating-point drift of the rolling sum: after
// this many updates the sum is rebuilt from the window.
const smaRecomputeEvery = 1024

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current model.NullFloat
	drift   int // updates since the sum was last rebuilt
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) (*SMA, error) {
	if err := checkPeriod("SMA", period); err != nil {
		return nil, err
	}
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}, nil
}

// SMASeries computes the SMA of prices from a cold start. Index i holds the
// mean of prices[i-period+1..i] once i >= period-1.
func SMASeries(prices []float64, period int) ([]model.NullFloat, error) {
	s, err := NewSMA(period)
	if err != nil {
		return nil, err
	}
	return Calculate(s, prices), nil
}

func (s *SMA) Name() string { return indicatorName("SMA", s.period) }

// Period returns the window length.
func (s *SMA) Period() int { return s.period }

func (s *SMA) Update(price float64) model.NullFloat {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = price
	s.sum += price
	s.idx = (s.idx + 1) % s.period
	s.count++

	s.drift++
	if s.drift >= smaRecomputeEvery {
		s.rebuildSum()
	}

	if s.count >= s.period {
		s.current = model.Some(s.sum / float64(s.period))
	}
	return s.current
}

func (s *SMA) rebuildSum() {
	n := s.count
	if n > s.period {
		n = s.period
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += s.buf[i]
	}
	s.sum = sum
	s.drift = 0
}

func (s *SMA) Value() model.NullFloat { return s.current }
func (s *SMA) Ready() bool            { return s.count >= s.period }

// Peek computes what Update would return for price without mutating state.
func (s *SMA) Peek(price float64) model.NullFloat {
	switch {
	case s.count+1 < s.period:
		return model.None()
	case s.count < s.period:
		return model.Some((s.sum + price) / float64(s.period))
	default:
		// Preview: replace the oldest value (at idx) with new price
		return model.Some((s.sum - s.buf[s.idx] + price) / float64(s.period))
	}
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.drift = 0
	s.current = model.None()
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// Snapshot serializes the SMA state for checkpoint persistence.
func (s *SMA) Snapshot() IndicatorSnapshot {
	bufCopy := make([]float64, len(s.buf))
	copy(bufCopy, s.buf)
	return IndicatorSnapshot{
		Type:    TypeSMA,
		Period:  s.period,
		Buf:     bufCopy,
		Idx:     s.idx,
		Count:   s.count,
		Sum:     s.sum,
		Current: s.current,
	}
}

// RestoreFromSnapshot restores SMA state from a checkpoint.
func (s *SMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if err := snap.check(TypeSMA, s.period); err != nil {
		return err
	}
	if len(snap.Buf) != s.period || snap.Idx < 0 || snap.Idx >= s.period {
		return errCorruptSnapshot(snap)
	}
	copy(s.buf, snap.Buf)
	s.idx = snap.Idx
	s.count = snap.Count
	s.sum = snap.Sum
	s.current = snap.Current
	s.drift = 0
	return nil
}
