package indicator

import (
	"log/slog"
	"strconv"
)

// Reload updates the engine with new configurations.
// It preserves state for indicators that already exist and only creates
// new instances for genuinely new indicators, so toggling one overlay never
// loses the warm-up history of the others.
// Returns the number of preserved and new indicator instances.
func (e *Engine) Reload(newConfigs []Config) (preserved, created int, err error) {
	return e.ReloadWarm(newConfigs, nil)
}

// ReloadWarm is Reload that also feeds history, oldest first, into each
// newly created indicator so it starts in step with the preserved ones.
func (e *Engine) ReloadWarm(newConfigs []Config, history []float64) (preserved, created int, err error) {
	if err := ValidateConfigs(newConfigs); err != nil {
		return 0, 0, err
	}

	// Build lookup of old indicators by identity
	oldByKey := make(map[string]Indicator, len(e.indicators))
	for i, cfg := range e.configs {
		oldByKey[configKey(cfg)] = e.indicators[i]
	}

	newInds := make([]Indicator, len(newConfigs))
	for i, cfg := range newConfigs {
		if existing, ok := oldByKey[configKey(cfg)]; ok {
			newInds[i] = existing // preserve accumulated state
			preserved++
			continue
		}
		ind, err := newIndicator(cfg)
		if err != nil {
			return 0, 0, err
		}
		for _, p := range history {
			ind.Update(p)
		}
		newInds[i] = ind
		created++
	}

	e.configs = append([]Config(nil), newConfigs...)
	e.indicators = newInds

	slog.Debug("indicator: config reloaded",
		slog.Int("configs", len(newConfigs)),
		slog.Int("preserved", preserved),
		slog.Int("created", created))
	return preserved, created, nil
}

// configKey identifies an indicator instance across reloads. Bollinger
// width is part of the identity since a different k needs a different band.
func configKey(cfg Config) string {
	if cfg.Type == TypeBB {
		return cfg.Name() + "@" + formatK(cfg.bandK())
	}
	return cfg.Name()
}

func formatK(k float64) string { return strconv.FormatFloat(k, 'g', -1, 64) }

// EqualConfigs checks if two config slices have the exact same set of
// indicators (order-independent).
func EqualConfigs(a, b []Config) bool {
	if len(a) != len(b) {
		return false
	}
	setA := make(map[string]bool, len(a))
	for _, c := range a {
		setA[configKey(c)] = true
	}
	for _, c := range b {
		if !setA[configKey(c)] {
			return false
		}
	}
	return true
}
