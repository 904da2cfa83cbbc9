// Package simhw is a software model of an ESP32-style UART peripheral. It implements
// uartx.Device so the driver core can be exercised on a host: tests inject received
// bytes and line conditions, clock transmitted bytes onto a wire or a peer, and raise
// the attached interrupt handler with Service.
//
// Level conditions (RX FIFO above its full threshold, TX FIFO at or below its empty
// threshold) re-latch whenever they still hold after a clear, as on the real part.
package simhw

import (
	"context"
	"sync"
	"time"

	"github.com/jangala-dev/tinygo-uartcore/uartx"
)

// Defaults for the ESP32 UART.
const (
	DefaultFIFOSize         = 128
	DefaultRxFullThreshold  = 120
	DefaultTxEmptyThreshold = 10
	DefaultClock            = 80_000_000
)

// Config describes the modelled peripheral. Zero fields take the defaults.
type Config struct {
	FIFOSize  int
	Clock     uint32
	DefaultTx uartx.Pin
	DefaultRx uartx.Pin
	// MaxPin is the highest GPIO. Pins above InputOnly can only carry RX.
	MaxPin    uartx.Pin
	InputOnly uartx.Pin
}

// Peripheral is one simulated UART. All methods are safe for concurrent use. The
// interrupt handler is never called with the internal lock held.
type Peripheral struct {
	mu sync.Mutex

	fifoSize int
	clock    uint32
	rx, tx   []byte
	raw, ena uartx.Status

	rxFullThr  int
	rxTimeout  int
	txEmptyThr int

	baud     uint32
	format   uartx.Format
	breakOn  bool
	cts, dsr bool

	cfg     Config
	txPin   uartx.Pin
	rxPin   uartx.Pin
	enabled bool
	handler func()

	peer    *Peripheral
	wire    []byte
	dropped int
}

var _ uartx.Device = (*Peripheral)(nil)

// New returns a peripheral with its clock gated off, as after reset.
func New(cfg Config) *Peripheral {
	if cfg.FIFOSize <= 0 {
		cfg.FIFOSize = DefaultFIFOSize
	}
	if cfg.Clock == 0 {
		cfg.Clock = DefaultClock
	}
	if cfg.MaxPin == 0 {
		cfg.MaxPin = 39
	}
	if cfg.InputOnly == 0 {
		cfg.InputOnly = 33
	}
	if cfg.DefaultTx == 0 && cfg.DefaultRx == 0 {
		cfg.DefaultTx, cfg.DefaultRx = 1, 3
	}
	p := &Peripheral{
		fifoSize: cfg.FIFOSize,
		clock:    cfg.Clock,
		cfg:      cfg,
		txPin:    uartx.PinNone,
		rxPin:    uartx.PinNone,
	}
	p.resetLocked()
	return p
}

func (p *Peripheral) resetLocked() {
	p.rx = make([]byte, 0, p.fifoSize)
	p.tx = make([]byte, 0, p.fifoSize)
	p.raw, p.ena = 0, 0
	p.rxFullThr = DefaultRxFullThreshold
	if p.rxFullThr >= p.fifoSize {
		p.rxFullThr = p.fifoSize - 1
	}
	p.txEmptyThr = DefaultTxEmptyThreshold
	if p.txEmptyThr >= p.fifoSize {
		p.txEmptyThr = p.fifoSize - 1
	}
	p.rxTimeout = 10
	p.breakOn = false
}

// Connect wires a's TX line to b's RX line and b's TX to a's RX. Connect(p, p) loops a
// peripheral back on itself.
func Connect(a, b *Peripheral) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

// levelLocked re-latches conditions that still hold.
func (p *Peripheral) levelLocked() {
	if len(p.rx) > p.rxFullThr {
		p.raw |= uartx.RxFifoFull
	}
	if len(p.tx) <= p.txEmptyThr {
		p.raw |= uartx.TxFifoEmpty
	}
}

// ---- line side ----

// Inject delivers bytes on the RX line. Bytes arriving while the FIFO is full are lost
// and latch RxOverflow. It returns the number of bytes that reached the FIFO. Nothing is
// received while the peripheral is disabled.
func (p *Peripheral) Inject(data []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return 0
	}
	n := 0
	for _, b := range data {
		if len(p.rx) >= p.fifoSize {
			p.raw |= uartx.RxOverflow
			p.dropped++
			continue
		}
		p.rx = append(p.rx, b)
		n++
	}
	p.levelLocked()
	return n
}

// InjectBreak latches BreakDetected.
func (p *Peripheral) InjectBreak() { p.latch(uartx.BreakDetected) }

// InjectFramingError latches FramingError.
func (p *Peripheral) InjectFramingError() { p.latch(uartx.FramingError) }

// InjectParityError latches ParityError.
func (p *Peripheral) InjectParityError() { p.latch(uartx.ParityError) }

// SetCTS drives the CTS input; a change latches CTSChanged.
func (p *Peripheral) SetCTS(level bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cts != level {
		p.cts = level
		p.raw |= uartx.CTSChanged
	}
}

// SetDSR drives the DSR input; a change latches DSRChanged.
func (p *Peripheral) SetDSR(level bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dsr != level {
		p.dsr = level
		p.raw |= uartx.DSRChanged
	}
}

func (p *Peripheral) latch(s uartx.Status) {
	p.mu.Lock()
	p.raw |= s
	p.mu.Unlock()
}

// Idle models the RX line going quiet for the configured timeout: with data waiting in
// the FIFO it latches RxFifoTimeout.
func (p *Peripheral) Idle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rx) > 0 && p.rxTimeout > 0 {
		p.raw |= uartx.RxFifoTimeout
	}
}

// Shift moves up to n bytes from the TX FIFO onto the line and returns how many moved.
// Emptying the FIFO latches TxDone. A held break blocks the line.
func (p *Peripheral) Shift(n int) int {
	p.mu.Lock()
	if p.breakOn || !p.enabled {
		p.mu.Unlock()
		return 0
	}
	if n > len(p.tx) {
		n = len(p.tx)
	}
	out := make([]byte, n)
	copy(out, p.tx[:n])
	p.tx = append(p.tx[:0], p.tx[n:]...)
	if n > 0 && len(p.tx) == 0 {
		p.raw |= uartx.TxDone
	}
	p.levelLocked()
	peer := p.peer
	if peer == nil {
		p.wire = append(p.wire, out...)
	}
	p.mu.Unlock()

	if peer != nil && n > 0 {
		peer.Inject(out)
	}
	return n
}

// Wire returns and forgets the bytes shifted out while no peer is connected.
func (p *Peripheral) Wire() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.wire
	p.wire = nil
	return w
}

// Dropped returns the number of received bytes lost to RX FIFO overruns.
func (p *Peripheral) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// ---- interrupt delivery ----

// Service invokes the attached handler once if an enabled source is latched, and reports
// whether it did. A handler picked up just before a concurrent Detach may still run once.
func (p *Peripheral) Service() bool {
	p.mu.Lock()
	h := p.handler
	pending := p.enabled && p.raw&p.ena != 0
	p.mu.Unlock()
	if h == nil || !pending {
		return false
	}
	h()
	return true
}

// Drain calls Service until no enabled source remains latched, up to limit passes, and
// returns the number of passes that ran the handler.
func (p *Peripheral) Drain(limit int) int {
	n := 0
	for n < limit && p.Service() {
		n++
	}
	return n
}

// Run clocks the model from the calling goroutine until ctx is done: every period it
// shifts up to perTick bytes, idles the RX line and services pending interrupts.
func (p *Peripheral) Run(ctx context.Context, period time.Duration, perTick int) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Shift(perTick)
			p.Service()
			p.Idle()
			p.Service()
		}
	}
}

// ---- uartx.Device ----

func (p *Peripheral) Transport() uartx.Transport { return uartx.TransportUART }
func (p *Peripheral) FIFOSize() int              { return p.fifoSize }

func (p *Peripheral) RxLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rx)
}

func (p *Peripheral) ReadRx(buf []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := copy(buf, p.rx)
	p.rx = append(p.rx[:0], p.rx[n:]...)
	return n
}

func (p *Peripheral) TxCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tx)
}

func (p *Peripheral) WriteTx(buf []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.fifoSize - len(p.tx)
	if n > len(buf) {
		n = len(buf)
	}
	p.tx = append(p.tx, buf[:n]...)
	return n
}

func (p *Peripheral) ResetRx() {
	p.mu.Lock()
	p.rx = p.rx[:0]
	p.mu.Unlock()
}

func (p *Peripheral) ResetTx() {
	p.mu.Lock()
	p.tx = p.tx[:0]
	p.mu.Unlock()
}

func (p *Peripheral) IntStatus() uartx.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.raw & p.ena
}

func (p *Peripheral) IntRaw() uartx.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.raw
}

func (p *Peripheral) EnableInterrupts(s uartx.Status) {
	p.mu.Lock()
	p.ena |= s & uartx.StatusAll
	p.mu.Unlock()
}

func (p *Peripheral) DisableInterrupts(s uartx.Status) {
	p.mu.Lock()
	p.ena &^= s
	p.mu.Unlock()
}

func (p *Peripheral) ClearInterrupts(s uartx.Status) {
	p.mu.Lock()
	p.raw &^= s
	p.levelLocked()
	p.mu.Unlock()
}

// Enabled returns the interrupt enable mask.
func (p *Peripheral) Enabled() uartx.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ena
}

func (p *Peripheral) SetThresholds(rxFull, rxTimeout, txEmpty int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rxFull >= 0 {
		p.rxFullThr = clamp(rxFull, 1, p.fifoSize-1)
	}
	if rxTimeout >= 0 {
		p.rxTimeout = clamp(rxTimeout, 0, 126)
	}
	if txEmpty >= 0 {
		p.txEmptyThr = clamp(txEmpty, 0, p.fifoSize-1)
	}
}

// Thresholds returns the programmed RX full, RX timeout and TX empty thresholds.
func (p *Peripheral) Thresholds() (rxFull, rxTimeout, txEmpty int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rxFullThr, p.rxTimeout, p.txEmptyThr
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SetBaudRate programs a divider with a 4-bit fractional part and returns the rate it
// produces.
func (p *Peripheral) SetBaudRate(baud uint32) uint32 {
	if baud == 0 {
		return 0
	}
	div := (uint64(p.clock) << 4) / uint64(baud)
	if div < 16 {
		div = 16
	}
	if div > 0xfffff {
		div = 0xfffff
	}
	actual := uint32((uint64(p.clock) << 4) / div)
	p.mu.Lock()
	p.baud = actual
	p.mu.Unlock()
	return actual
}

func (p *Peripheral) SetFormat(f uartx.Format) {
	p.mu.Lock()
	p.format = f
	p.mu.Unlock()
}

// Format returns the programmed framing.
func (p *Peripheral) Format() uartx.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format
}

func (p *Peripheral) SetBreak(on bool) {
	p.mu.Lock()
	p.breakOn = on
	p.mu.Unlock()
}

// Break reports whether the TX line is held in break.
func (p *Peripheral) Break() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.breakOn
}

func (p *Peripheral) ValidPin(pin uartx.Pin, output bool) bool {
	if pin < 0 || pin > p.cfg.MaxPin {
		return false
	}
	return !output || pin <= p.cfg.InputOnly
}

func (p *Peripheral) DefaultPins() (tx, rx uartx.Pin) { return p.cfg.DefaultTx, p.cfg.DefaultRx }

func (p *Peripheral) RoutePins(tx, rx uartx.Pin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tx != uartx.PinNoChange {
		p.txPin = tx
	}
	if rx != uartx.PinNoChange {
		p.rxPin = rx
	}
}

// Pins returns the routed TX and RX pins.
func (p *Peripheral) Pins() (tx, rx uartx.Pin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txPin, p.rxPin
}

func (p *Peripheral) Enable() {
	p.mu.Lock()
	p.enabled = true
	p.resetLocked()
	p.mu.Unlock()
}

func (p *Peripheral) Disable() {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
}

// Powered reports whether the peripheral clock is on.
func (p *Peripheral) Powered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *Peripheral) Attach(handler func()) {
	p.mu.Lock()
	p.handler = handler
	p.mu.Unlock()
}

func (p *Peripheral) Detach() {
	p.mu.Lock()
	p.handler = nil
	p.mu.Unlock()
}

// Attached reports whether a handler is installed.
func (p *Peripheral) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler != nil
}
