package pool

import (
	"sync"
	"time"
)

var timers sync.Pool

// AcquireTimer returns a stopped-and-drained timer armed for d.
//
// Hand the timer back with ReleaseTimer once the caller no longer selects on it.
func AcquireTimer(d time.Duration) *time.Timer {
	v := timers.Get()
	if v == nil {
		return time.NewTimer(d)
	}

	t, _ := v.(*time.Timer)
	if t.Reset(d) {
		select {
		case <-t.C:
		default:
		}
	}

	return t
}

// ReleaseTimer stops t and puts it back into the pool. t must not be used afterwards.
func ReleaseTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	timers.Put(t)
}
