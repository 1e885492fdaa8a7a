package indicator

import "chartcore/internal/model"

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + price) / period.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA indicator with the given period.
func NewSMMA(period int) (*SMMA, error) {
	if err := checkPeriod("SMMA", period); err != nil {
		return nil, err
	}
	return &SMMA{period: period}, nil
}

func (s *SMMA) Name() string { return indicatorName("SMMA", s.period) }

func (s *SMMA) Update(price float64) model.NullFloat {
	s.count++

	if s.count <= s.period {
		s.sum += price
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
			return model.Some(s.current)
		}
		return model.None()
	}

	s.current = (s.current*float64(s.period-1) + price) / float64(s.period)
	return model.Some(s.current)
}

func (s *SMMA) Value() model.NullFloat {
	if !s.Ready() {
		return model.None()
	}
	return model.Some(s.current)
}

func (s *SMMA) Ready() bool { return s.count >= s.period }

func (s *SMMA) Peek(price float64) model.NullFloat {
	switch {
	case s.count+1 < s.period:
		return model.None()
	case s.count < s.period:
		return model.Some((s.sum + price) / float64(s.period))
	default:
		return model.Some((s.current*float64(s.period-1) + price) / float64(s.period))
	}
}

// Reset clears the SMMA state for reuse.
func (s *SMMA) Reset() {
	s.count = 0
	s.sum = 0
	s.current = 0
}

// Snapshot serializes the SMMA state for checkpoint persistence.
func (s *SMMA) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    TypeSMMA,
		Period:  s.period,
		Count:   s.count,
		Sum:     s.sum,
		Current: s.Value(),
	}
}

// RestoreFromSnapshot restores SMMA state from a checkpoint.
func (s *SMMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	if err := snap.check(TypeSMMA, s.period); err != nil {
		return err
	}
	if snap.Count >= s.period && !snap.Current.Valid {
		return errCorruptSnapshot(snap)
	}
	s.count = snap.Count
	s.sum = snap.Sum
	s.current = snap.Current.Float64
	return nil
}
