//go:build uartxdebug

package uartx

import "sync/atomic"

// Called at ISR exit with the number of bytes moved into the RX ring.
func (u *UART) dbgISR(bytesDrained int) {
	atomic.AddUint32(&u.stats.ISRCount, 1)
	atomic.AddUint32(&u.stats.ISRBytes, uint32(bytesDrained))
	for {
		max := atomic.LoadUint32(&u.stats.ISRMaxDrain)
		if uint32(bytesDrained) <= max {
			break
		}
		if atomic.CompareAndSwapUint32(&u.stats.ISRMaxDrain, max, uint32(bytesDrained)) {
			break
		}
	}
	if u.rxBuf == nil {
		return
	}
	// track high-water mark
	used := uint32(u.rxBuf.Used())
	for {
		max := atomic.LoadUint32(&u.stats.RingMaxUsed)
		if used <= max {
			break
		}
		if atomic.CompareAndSwapUint32(&u.stats.RingMaxUsed, max, used) {
			break
		}
	}
}

func (u *UART) dbgOverflow() {
	atomic.AddUint32(&u.stats.Overflows, 1)
}

func (u *UART) dbgRxStall() {
	atomic.AddUint32(&u.stats.RxStalls, 1)
}

func (u *UART) dbgNotify(sent bool) {
	if sent {
		atomic.AddUint32(&u.stats.NotifySent, 1)
	} else {
		atomic.AddUint32(&u.stats.NotifyDropped, 1)
	}
}

func (u *UART) dbgReadWait() {
	atomic.AddUint32(&u.stats.ReadWaits, 1)
}
func (u *UART) dbgSpuriousWake() {
	atomic.AddUint32(&u.stats.SpuriousWakes, 1)
}
func (u *UART) dbgTimeout() {
	atomic.AddUint32(&u.stats.Timeouts, 1)
}
