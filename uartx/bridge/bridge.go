// Package bridge provides the USB-serial bridge transport: a uartx.Device whose FIFOs
// are fed by a host serial link instead of a UART shift register. The bridge moves data
// in 64-byte packets, has no baud divisor, no break generation and no line error flags.
//
// Two pump goroutines stand in for the USB endpoints. They raise the attached interrupt
// handler when a packet lands in the RX FIFO or when the TX FIFO drains.
package bridge

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.bug.st/serial"

	"github.com/jangala-dev/tinygo-uartcore/uartx"
)

// PacketSize is the endpoint packet size, which is also the capacity of each FIFO.
const PacketSize = 64

// pollInterval bounds how long a pump blocks in the link before checking for stop.
const pollInterval = 20 * time.Millisecond

var (
	ErrClosed = errors.New("bridge: link closed")
)

// Link is the host side of the bridge. serial.Port satisfies it. A link without
// SetReadTimeout must return from Read periodically or Disable cannot stop the RX pump.
type Link interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

type readTimeouter interface {
	SetReadTimeout(t time.Duration) error
}

type modeSetter interface {
	SetMode(mode *serial.Mode) error
}

// Bridge is a uartx.Device backed by a Link.
type Bridge struct {
	// ID identifies this bridge session in logs.
	ID string

	link   Link
	logger *log.Logger

	mu       sync.Mutex
	rx, tx   []byte
	raw, ena uartx.Status
	baud     uint32
	format   uartx.Format
	handler  func()
	err      error

	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
	space   chan struct{} // RX FIFO gained room
	kick    chan struct{} // TX FIFO gained data or a latched source was unmasked
}

var _ uartx.Device = (*Bridge)(nil)

// Open opens a host serial device as a bridge link.
func Open(path string, baud int) (*Bridge, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	b := New(port)
	b.baud = uint32(baud)
	return b, nil
}

// New wraps an already open link. When the link supports read timeouts one is set so
// that the RX pump can be stopped.
func New(link Link) *Bridge {
	if rt, ok := link.(readTimeouter); ok {
		_ = rt.SetReadTimeout(pollInterval)
	}
	return &Bridge{
		ID:     uuid.New().String(),
		link:   link,
		format: uartx.Format8N1,
		rx:     make([]byte, 0, PacketSize),
		tx:     make([]byte, 0, PacketSize),
		space:  make(chan struct{}, 1),
		kick:   make(chan struct{}, 1),
	}
}

// SetLogger enables logging of link errors.
func (b *Bridge) SetLogger(l *log.Logger) {
	b.mu.Lock()
	b.logger = l
	b.mu.Unlock()
}

// Err returns the error that stopped a pump, if any.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Close stops the pumps and closes the link.
func (b *Bridge) Close() error {
	b.Disable()
	return b.link.Close()
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// levelLocked re-latches conditions that still hold. There is no receive timeout in
// the bridge: a packet that leaves the FIFO below full is reported as RxFifoTimeout,
// a full FIFO as RxFifoFull.
func (b *Bridge) levelLocked() {
	if len(b.rx) >= PacketSize {
		b.raw |= uartx.RxFifoFull
	}
	if len(b.tx) == 0 {
		b.raw |= uartx.TxFifoEmpty
	}
}

// raise calls the handler if an enabled source is latched. It runs on a pump goroutine
// and never holds b.mu while calling out.
func (b *Bridge) raise() {
	b.mu.Lock()
	h := b.handler
	pending := b.raw&b.ena != 0
	b.mu.Unlock()
	if h != nil && pending {
		h()
	}
}

func (b *Bridge) fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	l := b.logger
	b.mu.Unlock()
	if l != nil {
		l.Printf("bridge %s: %v", b.ID, err)
	}
}

func (b *Bridge) rxPump(stop <-chan struct{}) {
	defer b.wg.Done()
	pkt := make([]byte, PacketSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := b.link.Read(pkt)
		if err != nil {
			b.fail(fmt.Errorf("read: %w", err))
			return
		}
		data := pkt[:n]
		for len(data) > 0 {
			b.mu.Lock()
			room := PacketSize - len(b.rx)
			if room > len(data) {
				room = len(data)
			}
			b.rx = append(b.rx, data[:room]...)
			if len(b.rx) < PacketSize {
				b.raw |= uartx.RxFifoTimeout
			}
			b.levelLocked()
			b.mu.Unlock()
			data = data[room:]

			b.raise()
			if len(data) == 0 {
				break
			}
			// Host side holds the rest until the FIFO is read.
			select {
			case <-b.space:
			case <-stop:
				return
			}
		}
	}
}

func (b *Bridge) txPump(stop <-chan struct{}) {
	defer b.wg.Done()
	pkt := make([]byte, PacketSize)
	for {
		select {
		case <-b.kick:
		case <-stop:
			return
		}
		for {
			b.mu.Lock()
			n := copy(pkt, b.tx)
			b.mu.Unlock()
			if n == 0 {
				// Also covers a source enabled while already latched.
				b.raise()
				break
			}
			w, err := b.link.Write(pkt[:n])
			b.mu.Lock()
			if w > len(b.tx) {
				// Flushed while the packet was in flight.
				w = len(b.tx)
			}
			b.tx = append(b.tx[:0], b.tx[w:]...)
			if len(b.tx) == 0 {
				b.raw |= uartx.TxDone
			}
			b.levelLocked()
			b.mu.Unlock()
			b.raise()
			if err != nil {
				b.fail(fmt.Errorf("write: %w", err))
				return
			}
		}
	}
}

// ---- uartx.Device ----

func (b *Bridge) Transport() uartx.Transport { return uartx.TransportUSBBridge }
func (b *Bridge) FIFOSize() int              { return PacketSize }

func (b *Bridge) RxLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rx)
}

func (b *Bridge) ReadRx(p []byte) int {
	b.mu.Lock()
	n := copy(p, b.rx)
	b.rx = append(b.rx[:0], b.rx[n:]...)
	b.mu.Unlock()
	if n > 0 {
		wake(b.space)
	}
	return n
}

func (b *Bridge) TxCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tx)
}

func (b *Bridge) WriteTx(p []byte) int {
	b.mu.Lock()
	n := PacketSize - len(b.tx)
	if n > len(p) {
		n = len(p)
	}
	b.tx = append(b.tx, p[:n]...)
	b.mu.Unlock()
	if n > 0 {
		wake(b.kick)
	}
	return n
}

func (b *Bridge) ResetRx() {
	b.mu.Lock()
	b.rx = b.rx[:0]
	b.mu.Unlock()
	wake(b.space)
}

func (b *Bridge) ResetTx() {
	b.mu.Lock()
	b.tx = b.tx[:0]
	b.mu.Unlock()
}

func (b *Bridge) IntStatus() uartx.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw & b.ena
}

func (b *Bridge) IntRaw() uartx.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw
}

// EnableInterrupts unmasks s. A source that is already latched fires from the TX pump,
// since the caller may be holding off interrupts.
func (b *Bridge) EnableInterrupts(s uartx.Status) {
	b.mu.Lock()
	b.ena |= s
	pending := b.raw&s != 0
	b.mu.Unlock()
	if pending {
		wake(b.kick)
	}
}

func (b *Bridge) DisableInterrupts(s uartx.Status) {
	b.mu.Lock()
	b.ena &^= s
	b.mu.Unlock()
}

func (b *Bridge) ClearInterrupts(s uartx.Status) {
	b.mu.Lock()
	b.raw &^= s
	b.levelLocked()
	b.mu.Unlock()
}

// SetThresholds is a no-op: the bridge interrupts per packet.
func (b *Bridge) SetThresholds(rxFull, rxTimeout, txEmpty int) {}

// SetBaudRate forwards the rate to a link that supports it. The bridge itself runs at
// USB speed, so the requested rate is returned unchanged.
func (b *Bridge) SetBaudRate(baud uint32) uint32 {
	b.mu.Lock()
	b.baud = baud
	b.mu.Unlock()
	b.applyMode()
	return baud
}

func (b *Bridge) SetFormat(f uartx.Format) {
	b.mu.Lock()
	b.format = f
	b.mu.Unlock()
	b.applyMode()
}

// applyMode passes line settings through to a serial link. Nothing is sent until a
// baud rate is known.
func (b *Bridge) applyMode() {
	ms, ok := b.link.(modeSetter)
	if !ok {
		return
	}
	b.mu.Lock()
	baud, f := b.baud, b.format
	b.mu.Unlock()
	if baud == 0 {
		return
	}
	if err := ms.SetMode(serialMode(baud, f)); err != nil {
		b.fail(fmt.Errorf("set mode: %w", err))
	}
}

func serialMode(baud uint32, f uartx.Format) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: int(baud),
		DataBits: int(f.DataBits),
	}

	switch f.StopBits {
	case uartx.StopBits1:
		mode.StopBits = serial.OneStopBit
	case uartx.StopBits1Half:
		mode.StopBits = serial.OnePointFiveStopBits
	case uartx.StopBits2:
		mode.StopBits = serial.TwoStopBits
	}

	switch f.Parity {
	case uartx.ParityNone:
		mode.Parity = serial.NoParity
	case uartx.ParityOdd:
		mode.Parity = serial.OddParity
	case uartx.ParityEven:
		mode.Parity = serial.EvenParity
	}

	return mode
}

func (b *Bridge) SetBreak(bool) {}

// ValidPin rejects every pin: the bridge signals are not routable.
func (b *Bridge) ValidPin(uartx.Pin, bool) bool { return false }

func (b *Bridge) DefaultPins() (tx, rx uartx.Pin) { return uartx.PinNone, uartx.PinNone }
func (b *Bridge) RoutePins(tx, rx uartx.Pin)      {}

// Enable resets the FIFOs and starts the pumps.
func (b *Bridge) Enable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rx = b.rx[:0]
	b.tx = b.tx[:0]
	b.raw, b.ena = 0, 0
	if b.running {
		return
	}
	b.running = true
	b.stop = make(chan struct{})
	b.wg.Add(2)
	go b.rxPump(b.stop)
	go b.txPump(b.stop)
}

// Disable stops the pumps and waits for them to exit.
func (b *Bridge) Disable() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stop)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bridge) Attach(handler func()) {
	b.mu.Lock()
	b.handler = handler
	b.mu.Unlock()
}

func (b *Bridge) Detach() {
	b.mu.Lock()
	b.handler = nil
	b.mu.Unlock()
}
