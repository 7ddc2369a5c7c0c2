// Package coarsetime trades precision for speed: Now is refreshed by a
// background ticker instead of reading the clock on every call.
// Suited for idle and lifetime checks where a few milliseconds do not matter.
package coarsetime

import (
	"sync"
	"sync/atomic"
	"time"
)

// Resolution is the maximum lag of Now behind the wall clock.
const Resolution = 20 * time.Millisecond

var (
	nowNanos atomic.Int64
	start    sync.Once
)

func refresh() {
	nowNanos.Store(time.Now().UnixNano())
}

// Now returns the current time, at most Resolution behind time.Now.
// The ticker starts on the first call.
func Now() time.Time {
	start.Do(func() {
		refresh()
		go func() {
			for range time.Tick(Resolution) {
				refresh()
			}
		}()
	})
	return time.Unix(0, nowNanos.Load())
}

// Since is time.Since over the coarse clock.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}
