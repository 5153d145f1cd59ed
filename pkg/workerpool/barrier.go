package workerpool

import "sync"

// Barrier is a reusable two-phase cyclic barrier for n parties, the Go
// stand-in for std::barrier (the standard library has no equivalent).
// Every party calls Wait once per round; the call blocks until all n
// parties have arrived, then releases all of them together and resets
// for the next round. Wait is the only blocking entry point; Drop lets a
// party leave the barrier permanently without ever blocking again, which
// is how a worker honors a stop signal instead of deadlocking the round.
type Barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	n     int // parties still expected to arrive this generation
	total int // parties configured when Drop hasn't shrunk it
	gen   uint64
}

// NewBarrier constructs a Barrier for exactly parties participants.
func NewBarrier(parties int) *Barrier {
	b := &Barrier{n: parties, total: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until every remaining party has called Wait for the
// current generation, then returns for all of them at once.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen
	b.n--
	if b.n == 0 {
		b.n = b.total
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}

// Drop removes the caller from the barrier permanently: it does not wait,
// and every future round expects one fewer party. If dropping completes
// the current generation, the remaining waiters are released.
func (b *Barrier) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total--
	b.n--
	if b.n == 0 {
		b.n = b.total
		b.gen++
		b.cond.Broadcast()
	}
}
