package store

import "time"

// Clock is injected everywhere timestamps are recorded, so tests can control
// time instead of sleeping.
type Clock interface {
	NowNano() int64
}

// systemClock is the default Clock, backed by the OS monotonic-adjusted wall
// clock.
type systemClock struct{}

func (systemClock) NowNano() int64 { return time.Now().UnixNano() }

// SystemClock is the default production Clock.
var SystemClock Clock = systemClock{}
