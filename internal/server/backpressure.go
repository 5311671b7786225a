package server

import "time"

const (
	maxOutstanding = 100
	releaseDelay   = 100 * time.Millisecond
)

// PressureTracker throttles fan-out to connections that already have too
// many undelivered coalesced updates in flight. The scheduled release is a
// stand-in for a delivery acknowledgment, not real flow control: a skipped
// connection simply misses one representative snapshot and catches up on the
// next quiet period.
type PressureTracker struct {
	outstanding map[string]int
	max         int
	delay       time.Duration
	releaseChan chan<- string
}

func NewPressureTracker(max int, delay time.Duration, releaseChan chan<- string) *PressureTracker {
	return &PressureTracker{
		outstanding: make(map[string]int),
		max:         max,
		delay:       delay,
		releaseChan: releaseChan,
	}
}

func (pt *PressureTracker) CanSend(connId string) bool {
	return pt.outstanding[connId] < pt.max
}

// Sent records one in-flight message and schedules its release back onto the
// dispatch loop after the delay.
func (pt *PressureTracker) Sent(connId string) {
	pt.outstanding[connId]++

	time.AfterFunc(pt.delay, func() {
		select {
		case pt.releaseChan <- connId:
		default:
			// dispatch loop gone or saturated, drop the release
		}
	})
}

// Release decrements the outstanding count, never below zero. Idle entries
// are removed so the map does not grow with connection churn.
func (pt *PressureTracker) Release(connId string) {
	n, ok := pt.outstanding[connId]
	if !ok {
		return
	}

	if n <= 1 {
		delete(pt.outstanding, connId)
		return
	}
	pt.outstanding[connId] = n - 1
}

func (pt *PressureTracker) Forget(connId string) {
	delete(pt.outstanding, connId)
}

func (pt *PressureTracker) Outstanding(connId string) int {
	return pt.outstanding[connId]
}
