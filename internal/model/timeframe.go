package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Timeframe is a bar bucket duration in seconds.
type Timeframe int

// Standard chart timeframes.
const (
	M1  Timeframe = 60
	M5  Timeframe = 300
	M15 Timeframe = 900
	H1  Timeframe = 3600
	D1  Timeframe = 86400
)

// Timeframes lists the standard timeframes in ascending order.
var Timeframes = []Timeframe{M1, M5, M15, H1, D1}

var timeframeNames = map[Timeframe]string{
	M1:  "1m",
	M5:  "5m",
	M15: "15m",
	H1:  "1h",
	D1:  "1d",
}

var timeframeLabels = map[Timeframe]string{
	M1:  "1 minute",
	M5:  "5 minutes",
	M15: "15 minutes",
	H1:  "1 hour",
	D1:  "1 day",
}

// ParseTimeframe accepts a short name ("1m", "5m", "15m", "1h", "1d") or a
// positive number of seconds ("120").
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for tf, name := range timeframeNames {
		if name == s {
			return tf, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: timeframe %q", ErrInvalidParameter, s)
	}
	return Timeframe(n), nil
}

// Validate rejects non-positive bucket durations.
func (tf Timeframe) Validate() error {
	if tf <= 0 {
		return fmt.Errorf("%w: timeframe must be positive, got %d", ErrInvalidParameter, int(tf))
	}
	return nil
}

// Seconds returns the bucket size in seconds.
func (tf Timeframe) Seconds() float64 { return float64(tf) }

// Duration returns the bucket size as a time.Duration.
func (tf Timeframe) Duration() time.Duration { return time.Duration(tf) * time.Second }

// Bucket floors ts to the start of its bucket.
func (tf Timeframe) Bucket(ts float64) float64 {
	size := tf.Seconds()
	return math.Floor(ts/size) * size
}

// String returns the short name ("5m"), or the second count for
// non-standard timeframes ("120s").
func (tf Timeframe) String() string {
	if name, ok := timeframeNames[tf]; ok {
		return name
	}
	return strconv.Itoa(int(tf)) + "s"
}

// Label returns a human readable name such as "15 minutes".
func (tf Timeframe) Label() string {
	if label, ok := timeframeLabels[tf]; ok {
		return label
	}
	return strconv.Itoa(int(tf)) + " seconds"
}

// Next returns the next coarser standard timeframe. D1 and non-standard
// timeframes return themselves.
func (tf Timeframe) Next() Timeframe {
	for i, t := range Timeframes {
		if t == tf && i+1 < len(Timeframes) {
			return Timeframes[i+1]
		}
	}
	return tf
}

// Previous returns the next finer standard timeframe. M1 and non-standard
// timeframes return themselves.
func (tf Timeframe) Previous() Timeframe {
	for i, t := range Timeframes {
		if t == tf && i > 0 {
			return Timeframes[i-1]
		}
	}
	return tf
}

// MarshalText implements encoding.TextMarshaler.
func (tf Timeframe) MarshalText() ([]byte, error) {
	return []byte(tf.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. A trailing "s" is
// accepted so String output round-trips.
func (tf *Timeframe) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeframe(strings.TrimSuffix(string(text), "s"))
	if err != nil {
		return err
	}
	*tf = parsed
	return nil
}
