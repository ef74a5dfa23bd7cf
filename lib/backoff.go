package lib

import "runtime"
import "time"

// Backoff is a bounded spin-wait helper for the rare hot-path cases
// where one goroutine must wait on another's state transition without
// a channel to block on, e.g. a validator spinning on a peer
// transaction's COMMITTING -> terminal transition. It escalates from a
// tight spin, to runtime.Gosched(), to short sleeps, capping each
// sleep at MaxSleep. Wait never gives up on its own: a caller's loop
// keeps waiting for as long as the awaited condition stays false.
type Backoff struct {
	tries    int
	spins    int
	MaxSpins int
	MaxSleep time.Duration
}

// NewBackoff create a Backoff with the given spin count and sleep cap.
// spins <= 0 defaults to 64, maxsleep <= 0 defaults to 1ms.
func NewBackoff(spins int, maxsleep time.Duration) *Backoff {
	if spins <= 0 {
		spins = 64
	}
	if maxsleep <= 0 {
		maxsleep = time.Millisecond
	}
	return &Backoff{MaxSpins: spins, MaxSleep: maxsleep}
}

// Wait escalate the backoff by one step. Call in a loop around the
// condition being awaited.
func (b *Backoff) Wait() {
	b.tries++
	if b.spins < b.MaxSpins {
		b.spins++
		return
	}
	runtime.Gosched()
	sleep := time.Duration(b.tries-b.MaxSpins) * time.Microsecond
	if sleep > b.MaxSleep {
		sleep = b.MaxSleep
	}
	time.Sleep(sleep)
}

// Reset the backoff state, for reuse across multiple wait-loops.
func (b *Backoff) Reset() {
	b.tries, b.spins = 0, 0
}

// Tries report how many times Wait has been called since the last
// Reset, useful for logging/metrics on how long a spin took.
func (b *Backoff) Tries() int {
	return b.tries
}
