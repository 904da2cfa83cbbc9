package uartx

import "runtime"

// Watchdog is fed by the busy-wait paths (Write with OptTxWait, WaitTxEmpty) so that a
// long drain does not trip a hardware reset timer.
type Watchdog interface {
	Feed()
}

// WatchdogFunc adapts a function to Watchdog.
type WatchdogFunc func()

func (f WatchdogFunc) Feed() { f() }

// yieldWatchdog lets other goroutines run, which on a host build includes the one
// clocking the simulated peripheral.
type yieldWatchdog struct{}

func (yieldWatchdog) Feed() { runtime.Gosched() }
