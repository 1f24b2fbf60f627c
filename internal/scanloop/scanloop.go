// Package scanloop runs the dispatcher's periodic duties (replication push,
// state snapshots, liveness probing) on a shared loop shape.
package scanloop

import (
	"math/rand/v2"
	"time"
)

// Every executes fn at a fixed interval until stopCh is closed. The first
// execution happens one interval after the call, not immediately.
func Every(stopCh <-chan struct{}, interval time.Duration, fn func()) {
	Jittered(stopCh, interval, 0, fn)
}

// Jittered executes fn at interval + random([0, jitterRange)) until stopCh
// is closed. Jitter decorrelates duties that share a cadence.
func Jittered(stopCh <-chan struct{}, interval, jitterRange time.Duration, fn func()) {
	if interval <= 0 {
		interval = time.Second
	}
	if jitterRange < 0 {
		jitterRange = 0
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C // drain initial fire

	for {
		d := interval
		if jitterRange > 0 {
			d += time.Duration(rand.Int64N(int64(jitterRange)))
		}

		timer.Reset(d)
		select {
		case <-stopCh:
			return
		case <-timer.C:
		}
		fn()
	}
}
