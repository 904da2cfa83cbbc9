//go:build tinygo

package uartx

import "runtime/interrupt"

type irqState = interrupt.State

func disableInterrupts() irqState { return interrupt.Disable() }

func restoreInterrupts(s irqState) { interrupt.Restore(s) }

// runISR is a plain call on hardware: the handler is already running at interrupt
// priority and cannot be preempted by foreground code.
func runISR(isr func()) { isr() }

func callbackContext(fn func()) { fn() }
