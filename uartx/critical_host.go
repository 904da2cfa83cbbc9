//go:build !tinygo

package uartx

import "sync"

// Host builds have no interrupt controller. A single process-wide mutex plays its part:
// foreground critical sections hold it, and simulated interrupts are dispatched with it
// held, so an ISR can never run inside a critical section and vice versa.
var interrupts sync.Mutex

type irqState struct{}

func disableInterrupts() irqState {
	interrupts.Lock()
	return irqState{}
}

func restoreInterrupts(irqState) {
	interrupts.Unlock()
}

// runISR invokes an interrupt handler the way the hardware would: with every other
// interrupt and every foreground critical section excluded.
func runISR(isr func()) {
	interrupts.Lock()
	defer interrupts.Unlock()
	isr()
}

// callbackContext runs a user callback from inside runISR with the gate released, so the
// callback can use port methods that take the gate themselves. On hardware the same
// callback simply runs at interrupt priority.
func callbackContext(fn func()) {
	interrupts.Unlock()
	defer interrupts.Lock()
	fn()
}
