package model

import "errors"

// ErrInvalidParameter is returned for configuration that can never produce a
// meaningful result: non-positive periods, bucket durations or pixel budgets,
// unknown indicator types, and malformed bars.
var ErrInvalidParameter = errors.New("invalid parameter")
