//go:build uartxdebug

package uartx

import "sync/atomic"

// Stats holds counters since the last reset.
type Stats struct {
	// ISR-level
	ISRCount      uint32 // number of ISR passes that found work
	ISRBytes      uint32 // total bytes drained in ISRs
	ISRMaxDrain   uint32 // max bytes drained in a single ISR
	NotifySent    uint32 // notify channel sends that succeeded
	NotifyDropped uint32 // notify channel sends that were dropped (buffer full)

	// RX flow control
	Overflows   uint32 // FIFO overruns; RX masked until the next Read
	RxStalls    uint32 // passes that found the ring full
	RingMaxUsed uint32 // high-water mark of RX ring occupancy

	// Blocking API behaviour
	ReadWaits     uint32 // times Read* had to wait
	SpuriousWakes uint32 // notify received but no data available
	Timeouts      uint32 // context timeouts in Read* APIs
}

func (u *UART) DebugReset() {
	s := disableInterrupts()
	u.stats = Stats{}
	restoreInterrupts(s)
}

func (u *UART) DebugStats() Stats {
	return Stats{
		ISRCount:      atomic.LoadUint32(&u.stats.ISRCount),
		ISRBytes:      atomic.LoadUint32(&u.stats.ISRBytes),
		ISRMaxDrain:   atomic.LoadUint32(&u.stats.ISRMaxDrain),
		NotifySent:    atomic.LoadUint32(&u.stats.NotifySent),
		NotifyDropped: atomic.LoadUint32(&u.stats.NotifyDropped),

		Overflows:   atomic.LoadUint32(&u.stats.Overflows),
		RxStalls:    atomic.LoadUint32(&u.stats.RxStalls),
		RingMaxUsed: atomic.LoadUint32(&u.stats.RingMaxUsed),

		ReadWaits:     atomic.LoadUint32(&u.stats.ReadWaits),
		SpuriousWakes: atomic.LoadUint32(&u.stats.SpuriousWakes),
		Timeouts:      atomic.LoadUint32(&u.stats.Timeouts),
	}
}

// Regs is a snapshot of the FIFO and interrupt state seen through the Device.
type Regs struct {
	IntRaw    Status // latched sources
	IntStatus Status // latched and enabled
	RxLen     int
	TxCount   int
}

func (u *UART) DebugRegs() Regs {
	s := disableInterrupts()
	defer restoreInterrupts(s)
	return Regs{
		IntRaw:    u.dev.IntRaw(),
		IntStatus: u.dev.IntStatus(),
		RxLen:     u.dev.RxLen(),
		TxCount:   u.dev.TxCount(),
	}
}
