package model

import (
	"math"
	"time"
)

// Tick represents a single trade print for the charted instrument.
// Timestamp is in seconds since the Unix epoch (fractional seconds allowed).
type Tick struct {
	Timestamp float64 `json:"timestamp" msgpack:"timestamp"`
	Price     float64 `json:"price" msgpack:"price"`
	Volume    float64 `json:"volume" msgpack:"volume"`
}

// Time returns the tick timestamp as a UTC time.Time.
func (t Tick) Time() time.Time {
	return secondsToTime(t.Timestamp)
}

func secondsToTime(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
