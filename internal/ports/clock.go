package ports

import "time"

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock supplies current time and periodic ticks. Injectable so tests can
// drive the loops with a virtual clock instead of waiting on real intervals.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}
