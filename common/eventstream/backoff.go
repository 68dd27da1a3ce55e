package eventstream

import (
	"math"
	"time"
)

// RetryStrategy selects how redelivery delays grow.
type RetryStrategy int

const (
	Linear      RetryStrategy = iota // Linear adds Interval per delivery.
	Exponential                      // Exponential doubles Interval per delivery.
)

// Backoff describes the redelivery delay of a failed event.
type Backoff struct {
	Strategy RetryStrategy
	Initial  time.Duration
	Interval time.Duration
	Ceiling  time.Duration
}

// Delay returns how long to wait before delivery attempt deliveryCount+1.
func (b Backoff) Delay(deliveryCount uint64) time.Duration {
	return getOffset(b.Strategy, b.Initial, b.Interval, deliveryCount, b.Ceiling)
}

func getOffset(strategy RetryStrategy, initial time.Duration, interval time.Duration, deliveryCount uint64, ceiling time.Duration) time.Duration {
	if interval == 0 {
		interval = time.Second
	}
	if ceiling < interval {
		ceiling = interval
	}
	var offset time.Duration
	if deliveryCount > 1 {
		if strategy == Linear {
			offset = initial + interval*time.Duration(deliveryCount-1) //nolint:gosec
		} else {
			incrementMultiplier := math.Pow(2, float64(deliveryCount-1))
			offset = initial + time.Duration(float64(interval)*incrementMultiplier)
		}
		if offset > ceiling || offset < 0 {
			offset = ceiling
		}
	}
	return offset
}
