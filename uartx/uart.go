package uartx

import (
	"errors"
	"sync"
	"sync/atomic"
)

var errUARTBufferEmpty = errors.New("UART buffer empty")

// UART is an open port. It is created by Registry.Open and stays valid until Close;
// afterwards every method is a no-op returning zero values.
type UART struct {
	nr  int
	reg *Registry
	dev Device

	mode       Mode
	options    Options
	rxHeadroom int
	baud       uint32
	format     Format
	txPin      Pin
	rxPin      Pin

	// RX ring: ISR produces, foreground consumes. TX ring: the reverse. Either may be nil.
	rxBuf *RingBuffer
	txBuf *RingBuffer

	// Shared with the ISR; only touched inside the critical section.
	status   Status
	attached bool

	callback atomic.Pointer[Callback]
	open     atomic.Bool

	// wmu serialises foreground writers across the FIFO/ring hand-over.
	wmu sync.Mutex

	scratch []byte // ISR staging, one FIFO's worth

	notify   chan struct{} // coalesced RX readiness notifications
	txNotify chan struct{} // coalesced TX progress notifications
	closed   chan struct{}

	stats Stats
}

// Port returns the port index.
func (u *UART) Port() int { return u.nr }

// Mode returns the configured direction.
func (u *UART) Mode() Mode { return u.mode }

// Transport reports the hardware family behind the port.
func (u *UART) Transport() Transport { return u.dev.Transport() }

// BaudRate returns the baud rate actually in use, which may differ from the one
// requested because the hardware divisor is quantised.
func (u *UART) BaudRate() uint32 { return u.baud }

// Format returns the configured framing.
func (u *UART) Format() Format { return u.format }

// Pins returns the assigned TX and RX pins.
func (u *UART) Pins() (tx, rx Pin) { return u.txPin, u.rxPin }

// IsOpen reports whether the port has not been closed.
func (u *UART) IsOpen() bool { return u.open.Load() }

func (u *UART) rxEnabled() bool { return u.open.Load() && u.mode.rx() }
func (u *UART) txEnabled() bool { return u.open.Load() && u.mode.tx() }

// SetCallback installs the event callback, or removes it when cb is nil. See Callback
// for the constraints on what it may do.
func (u *UART) SetCallback(cb Callback) {
	if cb == nil {
		u.callback.Store(nil)
		return
	}
	u.callback.Store(&cb)
}

// SetRxHeadroom sets the RX ring free space at or below which RxFifoFull is surfaced.
func (u *UART) SetRxHeadroom(n int) {
	if n < 0 {
		n = 0
	}
	s := disableInterrupts()
	u.rxHeadroom = n
	restoreInterrupts(s)
}

// RxHeadroom returns the current RX headroom.
func (u *UART) RxHeadroom() int { return u.rxHeadroom }

// TryRead copies up to len(p) received bytes into p and returns immediately. The RX ring
// is drained first, then the hardware FIFO tops up whatever room remains. Reading is the
// consumer's signal that it has made progress, so any RX interrupt sources the ISR
// masked after an overflow or stall are re-armed, even when nothing was read.
//
// It returns 0 for an RX-disabled or closed port and for an empty p.
func (u *UART) TryRead(p []byte) int {
	if !u.rxEnabled() || len(p) == 0 {
		return 0
	}

	u.reg.notify(u, NotifyBeforeRead)

	read := 0
	if u.rxBuf != nil {
		read = u.rxBuf.Read(p)
	}

	s := disableInterrupts()
	if read < len(p) {
		// Pick up anything the ISR moved since, then go to the FIFO. Doing both with
		// the ISR held off keeps ring bytes ahead of newer FIFO bytes.
		if u.rxBuf != nil {
			read += u.rxBuf.Read(p[read:])
		}
		read += u.dev.ReadRx(p[read:])
	}
	// FIFO full may have been disabled if the buffer overflowed, re-enable it now.
	u.dev.ClearInterrupts(rxIntrMask)
	u.dev.EnableInterrupts(rxIntrMask)
	restoreInterrupts(s)

	return read
}

// Read implements io.Reader with the non-blocking semantics of TryRead: it returns
// 0, nil when nothing is available. Use ReadBlocking to wait for data.
func (u *UART) Read(p []byte) (int, error) {
	return u.TryRead(p), nil
}

// ReadByte reads a single byte. If there is no data available, it returns
// errUARTBufferEmpty.
func (u *UART) ReadByte() (byte, error) {
	var b [1]byte
	if u.TryRead(b[:]) == 0 {
		return 0, errUARTBufferEmpty
	}
	return b[0], nil
}

// TryWrite accepts up to len(p) bytes. While the TX ring is empty bytes go straight into
// the hardware FIFO; once the FIFO is full the remainder queues in the ring for the ISR.
// Without OptTxWait it returns as soon as both are full, with the short count; with
// OptTxWait it keeps going, feeding the watchdog, until every byte is accepted or the
// port is closed.
//
// Concurrent callers are serialised. Interrupts are only held off to arm TxFifoEmpty.
func (u *UART) TryWrite(p []byte) int {
	if !u.txEnabled() || len(p) == 0 {
		return 0
	}

	u.wmu.Lock()
	defer u.wmu.Unlock()
	if !u.open.Load() {
		return 0
	}

	d := u.dev
	written := 0
	for written < len(p) {
		// TX ring not in use or empty: write directly to the hardware FIFO.
		if u.txBuf == nil || u.txBuf.Empty() {
			n := len(p) - written
			if free := txFree(d); n > free {
				n = free
			}
			written += d.WriteTx(p[written : written+n])
		}

		// Queue whatever is left.
		if u.txBuf != nil {
			written += u.txBuf.Write(p[written:])
		}

		// Arm the refill only once the ring holds everything queued so far, or an ISR
		// that has just found both FIFO and ring empty could mask it again.
		s := disableInterrupts()
		d.ClearInterrupts(TxFifoEmpty)
		d.EnableInterrupts(TxFifoEmpty)
		restoreInterrupts(s)

		u.reg.notify(u, NotifyAfterWrite)

		if u.options&OptTxWait == 0 || !u.open.Load() {
			break
		}
		if written < len(p) {
			u.reg.feed()
		}
	}

	return written
}

// Flush discards buffered data. mode selects RX, TX or both (ModeFull) and is narrowed
// to the directions the port carries. Flushing TX masks TxFifoEmpty since there is
// nothing left to send; flushing RX clears latched sources and re-arms RX interrupts.
func (u *UART) Flush(mode Mode) {
	if !u.open.Load() {
		return
	}
	flushRx := mode != ModeTxOnly && u.mode != ModeTxOnly
	flushTx := mode != ModeRxOnly && u.mode != ModeRxOnly

	if flushTx {
		// Quiesce the TX producer.
		u.wmu.Lock()
		defer u.wmu.Unlock()
	}

	s := disableInterrupts()
	u.flushLocked(flushRx, flushTx)
	restoreInterrupts(s)
}

// flushLocked must be called with interrupts disabled.
func (u *UART) flushLocked(flushRx, flushTx bool) {
	if flushRx && u.rxBuf != nil {
		u.rxBuf.Clear()
	}
	if flushTx && u.txBuf != nil {
		u.txBuf.Clear()
	}

	d := u.dev
	if flushTx {
		// Not needed until TryWrite is called again.
		d.DisableInterrupts(TxFifoEmpty)
		d.ResetTx()
	}
	if flushRx {
		// If receive overflow occurred these will be masked.
		d.ResetRx()
		d.ClearInterrupts(StatusAll &^ TxFifoEmpty)
		d.EnableInterrupts(rxIntrMask)
	}
}

// Status returns and clears the persistent status, merged with the error flags the
// hardware currently has latched. It is the one place sticky errors are consumed.
func (u *UART) Status() Status {
	if !u.open.Load() {
		return 0
	}
	s := disableInterrupts()
	status := u.status
	u.status = 0
	if u.dev.Transport() == TransportUART {
		status |= u.dev.IntRaw() & errorStatus
		u.dev.ClearInterrupts(status & errorStatus)
	}
	restoreInterrupts(s)
	return status
}

// SetBaudRate reprograms the divisor and returns the rate actually achieved, or 0 for a
// closed port or a zero rate.
func (u *UART) SetBaudRate(baud uint32) uint32 {
	if !u.open.Load() || baud == 0 {
		return 0
	}
	u.baud = u.dev.SetBaudRate(baud)
	return u.baud
}

// SetFormat changes data bits, parity and stop bits.
func (u *UART) SetFormat(f Format) error {
	if !u.open.Load() {
		return ErrNotOpen
	}
	if err := f.Validate(); err != nil {
		return err
	}
	u.dev.SetFormat(f)
	u.format = f
	return nil
}

// SetPins reroutes TX and/or RX. PinNoChange leaves a signal as it is and PinDefault
// selects the board default. Pins that cannot carry the signal fail with ErrInvalidPin
// and pins held by another open port with ErrPinInUse; nothing changes on failure.
func (u *UART) SetPins(tx, rx Pin) error {
	if !u.open.Load() {
		return ErrNotOpen
	}
	return u.reg.setPins(u, tx, rx)
}

// SetBreak holds the TX line low while on is true. Only standard UARTs support it.
func (u *UART) SetBreak(on bool) {
	if u.txEnabled() && u.dev.Transport() == TransportUART {
		u.dev.SetBreak(on)
	}
}

// TxFree returns the bytes TryWrite could accept right now, FIFO and ring together.
func (u *UART) TxFree() int {
	if !u.txEnabled() {
		return 0
	}
	s := disableInterrupts()
	space := txFree(u.dev)
	if u.txBuf != nil {
		space += u.txBuf.Free()
	}
	restoreInterrupts(s)
	return space
}

// RxAvailable returns the bytes TryRead could return right now, FIFO and ring together.
func (u *UART) RxAvailable() int {
	if !u.rxEnabled() {
		return 0
	}
	s := disableInterrupts()
	avail := u.dev.RxLen()
	if u.rxBuf != nil {
		avail += u.rxBuf.Used()
	}
	restoreInterrupts(s)
	return avail
}

// Buffered returns the number of bytes currently stored in the software RX buffer.
func (u *UART) Buffered() int {
	if u.rxBuf == nil || !u.open.Load() {
		return 0
	}
	return u.rxBuf.Used()
}

// WaitTxEmpty busy-waits, feeding the watchdog, until the TX ring and the TX FIFO are
// both empty. There is no timeout: do not call it when the line cannot drain.
func (u *UART) WaitTxEmpty() {
	if !u.txEnabled() {
		return
	}

	u.reg.notify(u, NotifyWaitTx)

	if u.txBuf != nil {
		for !u.txBuf.Empty() && u.open.Load() {
			u.reg.feed()
		}
	}
	for u.dev.TxCount() != 0 && u.open.Load() {
		u.reg.feed()
	}
}

// ConfigureInterrupts adjusts FIFO thresholds and the interrupt enable mask. With an RX
// ring in use the RX full threshold stays at the driver default, which the headroom
// calculation depends on. Only standard UARTs support it.
func (u *UART) ConfigureInterrupts(cfg IntrConfig) bool {
	if !u.open.Load() || u.dev.Transport() != TransportUART {
		return false
	}
	d := u.dev
	rxFull, rxTimeout, txEmpty := -1, -1, -1
	if u.mode.rx() {
		rxFull = cfg.RxFullThreshold
		if rxFull < 1 {
			// Zero locks up: the interrupt would never clear.
			rxFull = 1
		}
		if u.rxBuf != nil {
			rxFull = rxFullThreshold(d)
		}
		rxTimeout = cfg.RxTimeout
	}
	if u.mode.tx() {
		txEmpty = cfg.TxEmptyThreshold
	}

	s := disableInterrupts()
	d.SetThresholds(rxFull, rxTimeout, txEmpty)
	d.ClearInterrupts(cfg.Mask)
	d.DisableInterrupts(cfg.Mask &^ cfg.Enable)
	d.EnableInterrupts(cfg.Enable)
	restoreInterrupts(s)
	return true
}

// Close releases the port. See Registry.Close.
func (u *UART) Close() error {
	return u.reg.Close(u)
}
