package indicator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"chartcore/internal/model"
)

// SnapshotVersion is the current EngineSnapshot schema version.
const SnapshotVersion = 1

// ErrSnapshotMismatch is returned when a snapshot belongs to a different
// indicator type or parameter set than the one it is restored into.
var ErrSnapshotMismatch = errors.New("snapshot mismatch")

// Snapshottable is implemented by indicators that support state serialization.
type Snapshottable interface {
	Indicator
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(snap IndicatorSnapshot) error
}

// IndicatorSnapshot holds the serialized state of a single indicator instance.
type IndicatorSnapshot struct {
	Type   string  `json:"type"`   // "SMA", "EMA", "BB", "RSI", "SMMA"
	Period int     `json:"period"` // indicator period
	K      float64 `json:"k,omitempty"`

	Count   int             `json:"count"`
	Current model.NullFloat `json:"current"`

	// SMA / BB window
	Buf []float64 `json:"buf,omitempty"`
	Idx int       `json:"idx,omitempty"`
	Sum float64   `json:"sum,omitempty"`

	// RSI fields
	PrevPrice model.NullFloat `json:"prev_price"`
	AvgGain   float64         `json:"avg_gain,omitempty"`
	AvgLoss   float64         `json:"avg_loss,omitempty"`
}

func (s IndicatorSnapshot) check(typ string, period int) error {
	if s.Type != typ || s.Period != period {
		return fmt.Errorf("%w: snapshot %s, indicator %s",
			ErrSnapshotMismatch, indicatorName(s.Type, s.Period), indicatorName(typ, period))
	}
	if s.Count < 0 {
		return errCorruptSnapshot(s)
	}
	return nil
}

func errCorruptSnapshot(s IndicatorSnapshot) error {
	return fmt.Errorf("%w: corrupt %s snapshot", model.ErrInvalidParameter, indicatorName(s.Type, s.Period))
}

// EngineSnapshot holds the full state of the indicator engine.
type EngineSnapshot struct {
	Version    int                 `json:"version"` // schema version for forward compat
	LastTS     float64             `json:"last_ts"` // timestamp of the last processed bar
	Processed  int                 `json:"processed"`
	Indicators []IndicatorSnapshot `json:"indicators"`
}

// Snapshot captures the full state of the engine.
func (e *Engine) Snapshot() (*EngineSnapshot, error) {
	snap := &EngineSnapshot{
		Version:    SnapshotVersion,
		LastTS:     e.lastTS,
		Processed:  e.processed,
		Indicators: make([]IndicatorSnapshot, 0, len(e.indicators)),
	}
	for _, ind := range e.indicators {
		si, ok := ind.(Snapshottable)
		if !ok {
			return nil, fmt.Errorf("indicator %s does not implement Snapshottable", ind.Name())
		}
		snap.Indicators = append(snap.Indicators, si.Snapshot())
	}
	return snap, nil
}

// MarshalSnapshot encodes the engine state as JSON.
func (e *Engine) MarshalSnapshot() ([]byte, error) {
	snap, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	return json.Marshal(snap)
}

// RestoreEngine rebuilds an Engine from a snapshot.
// It is tolerant of config changes: indicators are matched by Type+Period
// (and width for BB) rather than by index. Matching indicators get their
// state restored; new indicators start fresh (cold). Removed indicators are
// silently skipped. A nil snapshot yields a cold engine.
func RestoreEngine(configs []Config, snap *EngineSnapshot) (*Engine, error) {
	e, err := NewEngine(configs)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		slog.Info("indicator: no snapshot, cold starting")
		return e, nil
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d", ErrSnapshotMismatch, snap.Version)
	}

	// Build a lookup: "SMA_9" → IndicatorSnapshot for fast matching
	snapLookup := make(map[string]IndicatorSnapshot, len(snap.Indicators))
	for _, indSnap := range snap.Indicators {
		snapLookup[configKey(Config{Type: indSnap.Type, Period: indSnap.Period, K: indSnap.K})] = indSnap
	}

	restored, cold := 0, 0
	for i, ind := range e.indicators {
		indSnap, found := snapLookup[configKey(e.configs[i])]
		if !found {
			cold++
			continue // new indicator stays fresh
		}
		si, ok := ind.(Snapshottable)
		if !ok {
			cold++
			continue
		}
		if err := si.RestoreFromSnapshot(indSnap); err != nil {
			// Non-fatal: log and leave cold
			slog.Warn("indicator: restore failed, cold starting",
				slog.String("indicator", ind.Name()), slog.Any("err", err))
			ind.Reset()
			cold++
			continue
		}
		restored++
	}

	e.lastTS = snap.LastTS
	e.processed = snap.Processed
	if cold > 0 {
		slog.Info("indicator: partial restore",
			slog.Int("restored", restored), slog.Int("cold", cold))
	}
	return e, nil
}

// UnmarshalEngine decodes a JSON snapshot and restores it into a new engine.
func UnmarshalEngine(configs []Config, data []byte) (*Engine, error) {
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return RestoreEngine(configs, &snap)
}
