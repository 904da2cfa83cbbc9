package uartx

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

const (
	defaultBaudRate = 115200

	// Interrupt thresholds programmed when the ISR is installed.
	rxFIFOHeadroom   = 8  // characters between RxFifoFull and a FIFO overrun
	rxTimeoutChars   = 10 // idle character times before RxFifoTimeout
	txEmptyThreshold = 10 // leaves ~10 character times to refill before the line idles
)

// rxFullThreshold is the RX FIFO level above which RxFifoFull fires. Data is drained by
// the ISR, so the gap to a FIFO overrun can be small.
func rxFullThreshold(d Device) int {
	thr := d.FIFOSize() - rxFIFOHeadroom
	if thr < 1 {
		thr = 1
	}
	return thr
}

type slot struct {
	dev    Device
	uart   *UART
	notify atomic.Pointer[NotifyFunc]
}

// Registry is the fixed table of ports, indexed by port number. Each slot pairs the
// hardware bound to that index with the open port (if any) and its lifecycle callback.
// Slots are filled by Open and emptied by Close; the table itself never grows.
type Registry struct {
	mu    sync.Mutex
	slots [PortCount]slot
	pins  map[Pin]int // claimed pin -> port index

	alloc    Allocator
	watchdog atomic.Pointer[watchdogRef]
	console  atomic.Int32
	logger   *log.Logger
}

type watchdogRef struct{ Watchdog }

// Default is the process-wide registry. Board support code binds hardware to it at
// start-up.
var Default = NewRegistry()

// NewRegistry returns an empty registry using a HeapAllocator without a budget.
func NewRegistry() *Registry {
	r := &Registry{
		pins:  make(map[Pin]int),
		alloc: &HeapAllocator{},
	}
	r.watchdog.Store(&watchdogRef{yieldWatchdog{}})
	r.console.Store(-1)
	return r
}

// SetAllocator replaces the buffer allocator. It affects subsequent Opens only.
func (r *Registry) SetAllocator(a Allocator) {
	r.mu.Lock()
	r.alloc = a
	r.mu.Unlock()
}

// SetWatchdog replaces the watchdog fed by busy-wait loops.
func (r *Registry) SetWatchdog(w Watchdog) {
	if w == nil {
		w = yieldWatchdog{}
	}
	r.watchdog.Store(&watchdogRef{w})
}

// SetLogger enables lifecycle logging. Nothing is logged from interrupt context.
func (r *Registry) SetLogger(l *log.Logger) {
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}

func (r *Registry) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

// feed may be called with a port's write lock held, so it must not take r.mu.
func (r *Registry) feed() {
	r.watchdog.Load().Feed()
}

// Bind attaches hardware to a port index. It fails for an out-of-range index or while a
// port is open on it.
func (r *Registry) Bind(nr int, d Device) error {
	if nr < 0 || nr >= PortCount {
		return fmt.Errorf("%w: %d", ErrInvalidPort, nr)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots[nr].uart != nil {
		return fmt.Errorf("%w: %d", ErrAlreadyOpen, nr)
	}
	r.slots[nr].dev = d
	return nil
}

// Get returns the open port at nr, or nil.
func (r *Registry) Get(nr int) *UART {
	if nr < 0 || nr >= PortCount {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[nr].uart
}

// Open claims the hardware bound to cfg.Port: it allocates the ring buffers, routes the
// pins, enables the peripheral clock, programs baud rate and format and installs the
// interrupt handler. The negotiated baud rate is available from UART.BaudRate.
//
// A failed Open leaves nothing allocated or claimed.
func (r *Registry) Open(cfg Config) (*UART, error) {
	nr := cfg.Port
	if nr < 0 || nr >= PortCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, nr)
	}
	if cfg.Format == (Format{}) {
		cfg.Format = Format8N1
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode > ModeTxOnly {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, cfg.Mode)
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.TxPin == 0 && cfg.RxPin == 0 {
		cfg.TxPin, cfg.RxPin = PinDefault, PinDefault
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sl := &r.slots[nr]
	if sl.dev == nil {
		return nil, fmt.Errorf("%w: no hardware bound to port %d", ErrInvalidPort, nr)
	}
	if sl.uart != nil {
		return nil, fmt.Errorf("%w: %d", ErrAlreadyOpen, nr)
	}
	d := sl.dev

	u := &UART{
		nr:         nr,
		reg:        r,
		dev:        d,
		mode:       cfg.Mode,
		options:    cfg.Options,
		rxHeadroom: cfg.RxHeadroom,
		format:     cfg.Format,
		txPin:      PinNone,
		rxPin:      PinNone,
		scratch:    make([]byte, d.FIFOSize()),
		notify:     make(chan struct{}, 1),
		txNotify:   make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
	if u.rxHeadroom <= 0 {
		u.rxHeadroom = DefaultRxHeadroom
	}

	defTx, defRx := d.DefaultPins()
	txPin, rxPin := PinNoChange, PinNoChange

	var ok bool
	if cfg.Mode.rx() {
		if u.rxBuf, ok = allocRing(r.alloc, cfg.RxSize); !ok {
			return nil, fmt.Errorf("%w: rx %d bytes", ErrAllocationFailed, cfg.RxSize)
		}
		rxPin = resolvePin(cfg.RxPin, defRx)
	}
	if cfg.Mode.tx() {
		if u.txBuf, ok = allocRing(r.alloc, cfg.TxSize); !ok {
			freeRing(r.alloc, u.rxBuf)
			return nil, fmt.Errorf("%w: tx %d bytes", ErrAllocationFailed, cfg.TxSize)
		}
		txPin = resolvePin(cfg.TxPin, defTx)
	}

	if err := r.checkPinsLocked(nr, d, txPin, rxPin); err != nil {
		freeRing(r.alloc, u.rxBuf)
		freeRing(r.alloc, u.txBuf)
		return nil, err
	}

	// Buffers allocated, now set up the hardware.
	r.detachLocked(nr)
	d.Enable()
	r.routePinsLocked(u, txPin, rxPin)
	d.SetFormat(cfg.Format)
	u.baud = d.SetBaudRate(cfg.BaudRate)

	u.open.Store(true)
	s := disableInterrupts()
	u.flushLocked(cfg.Mode.rx(), cfg.Mode.tx())
	restoreInterrupts(s)

	sl.uart = u
	r.startISRLocked(u)

	r.logf("uartx: port %d open (%s, %d baud, %s, rx=%d tx=%d)",
		nr, cfg.Mode, u.baud, cfg.Format, cfg.RxSize, cfg.TxSize)

	r.notify(u, NotifyAfterOpen)
	return u, nil
}

// Close detaches the interrupt handler (before anything the handler touches is
// released), turns the peripheral clock off, releases the pins and frees the ring
// buffers. Data still queued for transmission is discarded.
func (r *Registry) Close(u *UART) error {
	if u == nil {
		return ErrNotOpen
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sl := &r.slots[u.nr]
	if sl.uart != u {
		return ErrNotOpen
	}

	r.notify(u, NotifyBeforeClose)

	// Stop new foreground work and let any writer in progress leave. A writer that gets
	// the lock after this sees the port closed.
	u.open.Store(false)
	u.wmu.Lock()
	u.wmu.Unlock()

	r.detachLocked(u.nr)
	u.dev.Disable()

	for pin, owner := range r.pins {
		if owner == u.nr {
			delete(r.pins, pin)
		}
	}
	sl.uart = nil

	freeRing(r.alloc, u.rxBuf)
	freeRing(r.alloc, u.txBuf)
	close(u.closed)

	r.logf("uartx: port %d closed", u.nr)
	return nil
}

// DetachAll removes every interrupt handler and masks all sources. Ports stay open but
// are no longer serviced; it is meant for shutdown paths.
func (r *Registry) DetachAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for nr := range r.slots {
		if r.slots[nr].dev != nil {
			r.detachLocked(nr)
		}
	}
}

// startISRLocked programs thresholds, enables the port's interrupt sources and installs
// the handler. TxFifoEmpty is left masked; TryWrite enables it on demand.
func (r *Registry) startISRLocked(u *UART) {
	d := u.dev
	var ena Status
	rxFull, rxTimeout, txEmpty := -1, -1, -1

	if u.mode.rx() {
		rxFull, rxTimeout = rxFullThreshold(d), rxTimeoutChars
		// Errors are not worth an interrupt each; Status collects them afterwards.
		ena |= RxFifoFull | RxFifoTimeout | BreakDetected | RxOverflow
	}
	if u.mode.tx() {
		txEmpty = txEmptyThreshold
	}

	d.SetThresholds(rxFull, rxTimeout, txEmpty)

	s := disableInterrupts()
	d.ClearInterrupts(StatusAll)
	d.DisableInterrupts(StatusAll)
	d.EnableInterrupts(ena)
	u.attached = true
	d.Attach(func() { runISR(u.handleInterrupt) })
	restoreInterrupts(s)
}

func (r *Registry) detachLocked(nr int) {
	sl := &r.slots[nr]
	s := disableInterrupts()
	sl.dev.Detach()
	if sl.uart != nil {
		sl.uart.attached = false
	}
	sl.dev.ClearInterrupts(StatusAll)
	sl.dev.DisableInterrupts(StatusAll)
	restoreInterrupts(s)
}

func resolvePin(p, def Pin) Pin {
	if p == PinDefault {
		return def
	}
	return p
}

func (r *Registry) checkPinsLocked(nr int, d Device, tx, rx Pin) error {
	if tx.assigned() && !d.ValidPin(tx, true) {
		return fmt.Errorf("%w: tx %d", ErrInvalidPin, tx)
	}
	if rx.assigned() && !d.ValidPin(rx, false) {
		return fmt.Errorf("%w: rx %d", ErrInvalidPin, rx)
	}
	if tx.assigned() && tx == rx {
		return fmt.Errorf("%w: tx and rx both %d", ErrPinInUse, tx)
	}
	for _, p := range []Pin{tx, rx} {
		if owner, held := r.pins[p]; p.assigned() && held && owner != nr {
			return fmt.Errorf("%w: %d held by port %d", ErrPinInUse, p, owner)
		}
	}
	return nil
}

// routePinsLocked records the claims and routes the signals. PinNone releases a signal.
func (r *Registry) routePinsLocked(u *UART, tx, rx Pin) {
	release := func(old Pin) {
		if old.assigned() && r.pins[old] == u.nr {
			delete(r.pins, old)
		}
	}
	if tx != PinNoChange {
		release(u.txPin)
		if tx.assigned() {
			r.pins[tx] = u.nr
		}
		u.txPin = tx
	}
	if rx != PinNoChange {
		release(u.rxPin)
		if rx.assigned() {
			r.pins[rx] = u.nr
		}
		u.rxPin = rx
	}
	u.dev.RoutePins(tx, rx)
}

func (r *Registry) setPins(u *UART, tx, rx Pin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots[u.nr].uart != u {
		return ErrNotOpen
	}
	defTx, defRx := u.dev.DefaultPins()
	tx, rx = resolvePin(tx, defTx), resolvePin(rx, defRx)
	if !u.mode.tx() {
		tx = PinNoChange
	}
	if !u.mode.rx() {
		rx = PinNoChange
	}
	if err := r.checkPinsLocked(u.nr, u.dev, tx, rx); err != nil {
		return err
	}
	r.routePinsLocked(u, tx, rx)
	return nil
}
