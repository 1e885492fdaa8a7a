package downsample

import (
	"fmt"

	"chartcore/internal/model"
)

// MinMax decimates bars to targetPixelWidth chunks, keeping the bar with the
// lowest low and the bar with the highest high of each chunk in timestamp
// order. A bar that is both extremes is emitted once.
//
// Inputs of at most 2*targetPixelWidth bars are returned unchanged. Otherwise
// the output holds between targetPixelWidth and 2*targetPixelWidth bars.
func MinMax(bars []model.Bar, targetPixelWidth int) ([]model.Bar, error) {
	if targetPixelWidth <= 0 {
		return nil, fmt.Errorf("%w: pixel width must be positive, got %d",
			model.ErrInvalidParameter, targetPixelWidth)
	}
	n := len(bars)
	if n <= 2*targetPixelWidth {
		return clone(bars), nil
	}

	out := make([]model.Bar, 0, 2*targetPixelWidth)
	for px := 0; px < targetPixelWidth; px++ {
		// Chunk px spans [px*n/w, (px+1)*n/w). n > 2w keeps every chunk
		// at least two bars wide.
		start := px * n / targetPixelWidth
		end := (px + 1) * n / targetPixelWidth

		lo, hi := start, start
		for i := start + 1; i < end; i++ {
			if bars[i].Low < bars[lo].Low {
				lo = i
			}
			if bars[i].High > bars[hi].High {
				hi = i
			}
		}

		switch {
		case lo == hi:
			out = append(out, bars[lo])
		case bars[lo].Timestamp <= bars[hi].Timestamp:
			out = append(out, bars[lo], bars[hi])
		default:
			out = append(out, bars[hi], bars[lo])
		}
	}
	return out, nil
}
