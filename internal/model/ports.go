package model

// ── Data source ports ──
// These interfaces decouple the chart core from where historical bars come
// from (replay files, SQLite). The core itself never performs I/O.

// BarSource loads a bulk historical bar sequence for one symbol and timeframe.
type BarSource interface {
	// ReadBars returns bars with Timestamp > afterTS, ordered by timestamp.
	ReadBars(symbol string, tf Timeframe, afterTS float64) ([]Bar, error)

	// Close releases underlying resources.
	Close() error
}
