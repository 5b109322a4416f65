package raft

import (
	"math/rand"
	"time"
)

// electionTimer wraps time.Timer with a version counter so stale fires (from
// a timer that was reset after the AfterFunc callback was already queued)
// are recognized and dropped by the caller instead of acted on. Grounded on
// the same version-stamped reset/match pattern used for per-room timers in
// the reference Raft implementation this package is modeled on.
type electionTimer struct {
	version uint64
	t       *time.Timer
	min, max time.Duration
	fire    func(version uint64)
}

func newElectionTimer(min, max time.Duration, fire func(version uint64)) *electionTimer {
	return &electionTimer{min: min, max: max, fire: fire}
}

func (e *electionTimer) sample() time.Duration {
	if e.max <= e.min {
		return e.min
	}
	return e.min + time.Duration(rand.Int63n(int64(e.max-e.min)))
}

// reset draws a fresh random duration every call (§4.3 Timers and ordering).
func (e *electionTimer) reset() {
	dur := e.sample()
	e.version++
	v := e.version
	if e.t == nil {
		e.t = time.AfterFunc(dur, func() { e.fire(v) })
		return
	}
	e.t.Stop()
	e.t = time.AfterFunc(dur, func() { e.fire(v) })
}

func (e *electionTimer) stop() {
	if e.t != nil {
		e.t.Stop()
	}
}

func (e *electionTimer) matches(v uint64) bool {
	return e.version == v
}
