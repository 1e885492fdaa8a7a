package indicator

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"chartcore/internal/model"
)

// Indicator type identifiers.
const (
	TypeSMA  = "SMA"
	TypeEMA  = "EMA"
	TypeBB   = "BB"
	TypeRSI  = "RSI"
	TypeSMMA = "SMMA"
)

// DefaultRSIPeriod is the conventional RSI lookback.
const DefaultRSIPeriod = 14

// Config specifies a single indicator to compute.
type Config struct {
	Type   string  `json:"type" yaml:"type"` // "SMA", "EMA", "BB", "RSI", "SMMA"
	Period int     `json:"period" yaml:"period"`
	K      float64 `json:"k,omitempty" yaml:"k,omitempty"` // BB only; 0 means DefaultBollingerK
}

// Name returns the series name, e.g. "EMA_20".
func (c Config) Name() string { return indicatorName(c.Type, c.Period) }

func (c Config) bandK() float64 {
	if c.K == 0 {
		return DefaultBollingerK
	}
	return c.K
}

// Result is one indicator value for one bar.
type Result struct {
	Name  string          `json:"name"`
	Type  string          `json:"type"`
	TS    float64         `json:"ts"`
	Value model.NullFloat `json:"value"`
	Band  *Band           `json:"band,omitempty"` // BB only
	Ready bool            `json:"ready"`
	Live  bool            `json:"live,omitempty"` // computed by Peek for a forming bar
}

// Series is a full index-aligned indicator series.
type Series struct {
	Config Config
	Values []model.NullFloat
	Bands  []Band // BB only
}

// Engine computes a configured set of indicators over one bar stream.
// Designed for single-goroutine usage, no locks needed.
type Engine struct {
	configs    []Config
	indicators []Indicator
	lastTS     float64
	processed  int
}

// NewEngine validates configs and creates fresh indicator instances.
func NewEngine(configs []Config) (*Engine, error) {
	if err := ValidateConfigs(configs); err != nil {
		return nil, err
	}
	inds, err := newIndicators(configs)
	if err != nil {
		return nil, err
	}
	return &Engine{
		configs:    append([]Config(nil), configs...),
		indicators: inds,
	}, nil
}

// Configs returns a copy of the active configuration.
func (e *Engine) Configs() []Config {
	return append([]Config(nil), e.configs...)
}

// Processed returns how many completed bars were fed since the last reset.
func (e *Engine) Processed() int { return e.processed }

// Process feeds a completed bar's close into every indicator.
// Returns indicator results (may include not-ready indicators with Ready=false).
func (e *Engine) Process(bar model.Bar) []Result {
	results := make([]Result, 0, len(e.indicators))
	for i, ind := range e.indicators {
		r := Result{
			Name:  ind.Name(),
			Type:  e.configs[i].Type,
			TS:    bar.Timestamp,
			Value: ind.Update(bar.Close),
			Ready: ind.Ready(),
		}
		if bb, ok := ind.(*Bollinger); ok {
			band := bb.Band()
			r.Band = &band
		}
		results = append(results, r)
	}
	e.lastTS = bar.Timestamp
	e.processed++
	return results
}

// ProcessPeek computes live indicator values for a forming bar using Peek().
// Does NOT mutate indicator state, so it is safe to call on every tick.
func (e *Engine) ProcessPeek(bar model.Bar) []Result {
	results := make([]Result, 0, len(e.indicators))
	for i, ind := range e.indicators {
		r := Result{
			Name:  ind.Name(),
			Type:  e.configs[i].Type,
			TS:    bar.Timestamp,
			Value: ind.Peek(bar.Close),
			Ready: ind.Ready(),
			Live:  true,
		}
		if bb, ok := ind.(*Bollinger); ok {
			band := bb.PeekBand(bar.Close)
			r.Band = &band
		}
		results = append(results, r)
	}
	return results
}

// PeekAhead peeks the last of bars as if every bar before it had been
// processed first. The engine is not mutated; the leading bars run through
// a copy restored from a snapshot. An empty slice yields Latest().
func (e *Engine) PeekAhead(bars []model.Bar) ([]Result, error) {
	switch len(bars) {
	case 0:
		return e.Latest(), nil
	case 1:
		return e.ProcessPeek(bars[0]), nil
	}
	snap, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	scratch, err := RestoreEngine(e.configs, snap)
	if err != nil {
		return nil, err
	}
	last := len(bars) - 1
	for _, b := range bars[:last] {
		scratch.Process(b)
	}
	return scratch.ProcessPeek(bars[last]), nil
}

// Latest returns each indicator's current value as of the last processed bar.
func (e *Engine) Latest() []Result {
	results := make([]Result, 0, len(e.indicators))
	for i, ind := range e.indicators {
		r := Result{
			Name:  ind.Name(),
			Type:  e.configs[i].Type,
			TS:    e.lastTS,
			Value: ind.Value(),
			Ready: ind.Ready(),
		}
		if bb, ok := ind.(*Bollinger); ok {
			band := bb.Band()
			r.Band = &band
		}
		results = append(results, r)
	}
	return results
}

// Reset cold-starts every indicator.
func (e *Engine) Reset() {
	for _, ind := range e.indicators {
		ind.Reset()
	}
	e.lastTS = 0
	e.processed = 0
}

// Series computes every configured indicator over prices from a cold start.
// Engine state is not touched.
func (e *Engine) Series(prices []float64) []Series {
	out, _ := ComputeSeries(e.configs, prices)
	return out
}

// ComputeSeries computes each configured indicator over prices with fresh
// instances. The result is ordered like configs.
func ComputeSeries(configs []Config, prices []float64) ([]Series, error) {
	inds, err := newIndicators(configs)
	if err != nil {
		return nil, err
	}
	out := make([]Series, len(configs))
	for i, ind := range inds {
		s := Series{Config: configs[i]}
		if bb, ok := ind.(*Bollinger); ok {
			s.Bands = make([]Band, len(prices))
			s.Values = make([]model.NullFloat, len(prices))
			for j, p := range prices {
				s.Bands[j] = bb.UpdateBand(p)
				s.Values[j] = middle(s.Bands[j])
			}
		} else {
			s.Values = Calculate(ind, prices)
		}
		out[i] = s
	}
	return out, nil
}

func newIndicators(configs []Config) ([]Indicator, error) {
	inds := make([]Indicator, len(configs))
	for i, cfg := range configs {
		ind, err := newIndicator(cfg)
		if err != nil {
			return nil, err
		}
		inds[i] = ind
	}
	return inds, nil
}

// newIndicator creates a fresh indicator instance for a config.
func newIndicator(cfg Config) (Indicator, error) {
	switch cfg.Type {
	case TypeSMA:
		return NewSMA(cfg.Period)
	case TypeEMA:
		return NewEMA(cfg.Period)
	case TypeBB:
		return NewBollinger(cfg.Period, cfg.bandK())
	case TypeRSI:
		return NewRSI(cfg.Period)
	case TypeSMMA:
		return NewSMMA(cfg.Period)
	default:
		return nil, fmt.Errorf("%w: unknown indicator type %q", model.ErrInvalidParameter, cfg.Type)
	}
}

// ValidateConfigs checks a set of Configs for errors.
func ValidateConfigs(configs []Config) error {
	seen := make(map[string]bool, len(configs))
	for _, cfg := range configs {
		switch cfg.Type {
		case TypeSMA, TypeEMA, TypeBB, TypeRSI, TypeSMMA:
			// valid
		default:
			return fmt.Errorf("%w: unknown indicator type %q", model.ErrInvalidParameter, cfg.Type)
		}
		if cfg.Period <= 0 {
			return fmt.Errorf("%w: invalid period=%d for %s", model.ErrInvalidParameter, cfg.Period, cfg.Type)
		}
		if cfg.K < 0 || math.IsNaN(cfg.K) || math.IsInf(cfg.K, 0) {
			return fmt.Errorf("%w: invalid k=%v for %s", model.ErrInvalidParameter, cfg.K, cfg.Type)
		}
		name := cfg.Name()
		if seen[name] {
			return fmt.Errorf("%w: duplicate indicator %s", model.ErrInvalidParameter, name)
		}
		seen[name] = true
	}
	return nil
}

// ParseConfigs parses a comma-separated list such as
// "EMA:20,SMA:50,BB:20:2.5,RSI:14". The optional third field is the
// Bollinger width; defaultK applies to BB entries without one.
func ParseConfigs(s string, defaultK float64) ([]Config, error) {
	var configs []Config
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) < 2 || len(fields) > 3 {
			return nil, fmt.Errorf("%w: indicator %q, want TYPE:PERIOD", model.ErrInvalidParameter, part)
		}
		period, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: indicator %q period: %v", model.ErrInvalidParameter, part, err)
		}
		cfg := Config{Type: strings.ToUpper(strings.TrimSpace(fields[0])), Period: period}
		if cfg.Type == TypeBB {
			cfg.K = defaultK
			if len(fields) == 3 {
				k, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
				if err != nil {
					return nil, fmt.Errorf("%w: indicator %q k: %v", model.ErrInvalidParameter, part, err)
				}
				// Zero is the unset marker on Config.
				if !(k > 0) {
					return nil, fmt.Errorf("%w: indicator %q k must be positive", model.ErrInvalidParameter, part)
				}
				cfg.K = k
			}
		} else if len(fields) == 3 {
			return nil, fmt.Errorf("%w: indicator %q takes no width", model.ErrInvalidParameter, part)
		}
		configs = append(configs, cfg)
	}
	if err := ValidateConfigs(configs); err != nil {
		return nil, err
	}
	return configs, nil
}
