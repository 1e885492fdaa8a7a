package downsample

import (
	"fmt"
	"strings"

	"chartcore/internal/model"
)

// Mode selects how a viewport is drawn.
type Mode string

const (
	// ModeAuto draws candlesticks while they are wide enough, and a
	// min/max-decimated silhouette otherwise.
	ModeAuto    Mode = "auto"
	ModeCandles Mode = "candles"
	ModeLine    Mode = "line"
)

// ParseMode accepts "auto", "candles" or "line"; empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeCandles, ModeLine:
		return m, nil
	default:
		return "", fmt.Errorf("%w: render mode %q", model.ErrInvalidParameter, s)
	}
}

// Candle width bounds in pixels.
const (
	MinCandleWidth = 1.0
	MaxCandleWidth = 20.0
	// CandlestickWidth is the narrowest width at which bodies and wicks are
	// still distinguishable.
	CandlestickWidth = 2.0
)

// Algorithm names, also used as metric labels.
const (
	AlgoNone   = "none"
	AlgoMinMax = "minmax"
	AlgoLTTB   = "lttb"
)

// Plan describes how a viewport will be rendered.
type Plan struct {
	Mode         Mode    `json:"mode"`
	Algorithm    string  `json:"algorithm"`
	CandleWidth  float64 `json:"candle_width"`
	Candlesticks bool    `json:"candlesticks"`
	Input        int     `json:"input"`
	Output       int     `json:"output"`
}

// CandleWidth returns pixelWidth/visibleBars clamped to
// [MinCandleWidth, MaxCandleWidth].
func CandleWidth(pixelWidth, visibleBars int) float64 {
	if visibleBars <= 0 {
		return MaxCandleWidth
	}
	w := float64(pixelWidth) / float64(visibleBars)
	if w < MinCandleWidth {
		return MinCandleWidth
	}
	if w > MaxCandleWidth {
		return MaxCandleWidth
	}
	return w
}

// ForViewport reduces the visible bars for a plot pixelWidth pixels wide.
//
//   - auto: bars pass through while candlesticks fit, else MinMax;
//   - candles: MinMax to pixelWidth;
//   - line: LTTB to pixelWidth points.
func ForViewport(bars []model.Bar, pixelWidth int, mode Mode) ([]model.Bar, Plan, error) {
	if pixelWidth <= 0 {
		return nil, Plan{}, fmt.Errorf("%w: pixel width must be positive, got %d",
			model.ErrInvalidParameter, pixelWidth)
	}
	width := CandleWidth(pixelWidth, len(bars))
	plan := Plan{
		Mode:         mode,
		CandleWidth:  width,
		Candlesticks: width >= CandlestickWidth,
		Input:        len(bars),
	}

	var out []model.Bar
	var err error
	switch mode {
	case ModeAuto:
		if plan.Candlesticks {
			plan.Algorithm = AlgoNone
			out = clone(bars)
		} else {
			plan.Algorithm = AlgoMinMax
			out, err = MinMax(bars, pixelWidth)
		}
	case ModeCandles:
		plan.Algorithm = AlgoMinMax
		out, err = MinMax(bars, pixelWidth)
	case ModeLine:
		plan.Algorithm = AlgoLTTB
		plan.Candlesticks = false
		out = LTTB(bars, pixelWidth)
	default:
		return nil, Plan{}, fmt.Errorf("%w: render mode %q", model.ErrInvalidParameter, string(mode))
	}
	if err != nil {
		return nil, Plan{}, err
	}
	plan.Output = len(out)
	return out, plan, nil
}
