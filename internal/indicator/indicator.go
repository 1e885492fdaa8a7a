// Package indicator provides technical indicator calculations over price series.
//
// Every calculator keeps only rolling numeric state, never bar history, and
// reports "not enough history yet" as an absent model.NullFloat rather than a
// zero. Calculators are not safe for concurrent use; construct one per
// logical stream and call Reset before reusing it for an unrelated one.
package indicator

import (
	"fmt"
	"strconv"

	"chartcore/internal/model"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA_20", "EMA_9").
	Name() string

	// Update feeds the next price and returns the value at that index.
	Update(price float64) model.NullFloat

	// Value returns the value after the most recent Update.
	Value() model.NullFloat

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Update would return for this price WITHOUT
	// mutating internal state. Used for the forming bar.
	Peek(price float64) model.NullFloat

	// Reset clears all rolling state; the next calls behave like a cold start.
	Reset()
}

// Calculate feeds prices through ind in order and returns one value per
// price, index-aligned with the input. State carries over from earlier calls.
func Calculate(ind Indicator, prices []float64) []model.NullFloat {
	out := make([]model.NullFloat, len(prices))
	for i, p := range prices {
		out[i] = ind.Update(p)
	}
	return out
}

func checkPeriod(kind string, period int) error {
	if period <= 0 {
		return fmt.Errorf("%w: %s period must be positive, got %d", model.ErrInvalidParameter, kind, period)
	}
	return nil
}

func indicatorName(kind string, period int) string {
	return kind + "_" + strconv.Itoa(period)
}
