// Package uartx provides an interrupt-driven UART driver core: software ring buffers
// bridging a fixed-size hardware FIFO, an interrupt service routine that drains and
// refills that FIFO, and a port controller through which foreground code reads, writes,
// flushes and queries status.
//
// Two execution contexts share each port. The interrupt handler (ISR) is the only
// producer of the RX ring and the only consumer of the TX ring; foreground code is the
// consumer of the RX ring and the producer of the TX ring. Ring cursors are therefore
// touched without a lock. The persistent status word and the interrupt enable mask are
// shared by both contexts and are only updated inside a short critical section.
//
// Runtime hardware errors (break, overflow, framing, parity) never surface as Go errors.
// They accumulate as sticky bits returned by Status or delivered to the event callback.
package uartx

import (
	"errors"
	"fmt"
)

// PortCount is the number of port indices the registry tracks. Indices 0..2 are standard
// UART peripherals; index 3 is reserved for the USB-serial bridge.
const PortCount = 4

// PortUSBBridge is the port index used by the USB-serial bridge transport.
const PortUSBBridge = 3

// Configuration errors returned synchronously by Open, SetPins and SetFormat.
var (
	ErrInvalidPort      = errors.New("uartx: invalid port")
	ErrAlreadyOpen      = errors.New("uartx: port already open")
	ErrAllocationFailed = errors.New("uartx: buffer allocation failed")
	ErrInvalidPin       = errors.New("uartx: invalid pin")
	ErrPinInUse         = errors.New("uartx: pin in use")
	ErrInvalidFormat    = errors.New("uartx: invalid format")
	ErrInvalidMode      = errors.New("uartx: invalid mode")
	ErrNotOpen          = errors.New("uartx: port not open")
)

// Mode selects which directions a port carries.
type Mode uint8

const (
	ModeFull Mode = iota // RX and TX
	ModeRxOnly
	ModeTxOnly
)

func (m Mode) rx() bool { return m != ModeTxOnly }
func (m Mode) tx() bool { return m != ModeRxOnly }

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeRxOnly:
		return "rx-only"
	case ModeTxOnly:
		return "tx-only"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Options are per-port behaviour flags.
type Options uint8

const (
	// OptCallbackRaw bypasses all buffer management in the ISR. The callback receives the
	// raw latched interrupt status and the application services the FIFOs itself.
	OptCallbackRaw Options = 1 << iota
	// OptTxWait makes Write loop until every byte has been accepted.
	OptTxWait
)

// UARTParity defines the parity setting used for UART communication.
type UARTParity uint8

const (
	// ParityNone disables parity generation and checking (the most common setting).
	ParityNone UARTParity = iota
	// ParityEven sets even parity (total number of 1 bits is even).
	ParityEven
	// ParityOdd sets odd parity (total number of 1 bits is odd).
	ParityOdd
)

// StopBits is the number of stop bits per character.
type StopBits uint8

const (
	StopBits1 StopBits = iota
	StopBits1Half
	StopBits2
)

// Format describes the character framing.
type Format struct {
	DataBits uint8 // 5..8
	Parity   UARTParity
	StopBits StopBits
}

// Format8N1 is the default framing.
var Format8N1 = Format{DataBits: 8, Parity: ParityNone, StopBits: StopBits1}

// Validate reports ErrInvalidFormat for out-of-range fields.
func (f Format) Validate() error {
	if f.DataBits < 5 || f.DataBits > 8 {
		return fmt.Errorf("%w: data bits %d", ErrInvalidFormat, f.DataBits)
	}
	if f.Parity > ParityOdd {
		return fmt.Errorf("%w: parity %d", ErrInvalidFormat, f.Parity)
	}
	if f.StopBits > StopBits2 {
		return fmt.Errorf("%w: stop bits %d", ErrInvalidFormat, f.StopBits)
	}
	return nil
}

func (f Format) String() string {
	p := "N"
	switch f.Parity {
	case ParityEven:
		p = "E"
	case ParityOdd:
		p = "O"
	}
	s := "1"
	switch f.StopBits {
	case StopBits1Half:
		s = "1.5"
	case StopBits2:
		s = "2"
	}
	return fmt.Sprintf("%d%s%s", f.DataBits, p, s)
}

// Pin is a GPIO number or one of the pin sentinels.
type Pin int16

const (
	// PinDefault selects the board default pin for the port.
	PinDefault Pin = -1
	// PinNoChange leaves the current routing untouched.
	PinNoChange Pin = -2
	// PinNone explicitly disconnects the signal.
	PinNone Pin = -3
)

func (p Pin) assigned() bool { return p >= 0 }

// DefaultRxHeadroom is the RX headroom applied when Config.RxHeadroom is zero. It is the
// nominal 32 bytes a task-level consumer needs, less the headroom already provided by the
// gap between the hardware FIFO full threshold and its capacity.
const DefaultRxHeadroom = 32 - (128 - 120)

// Config is passed to Registry.Open.
type Config struct {
	Port     int
	Mode     Mode
	BaudRate uint32
	Format   Format
	RxSize   int // 0: unbuffered, reads come straight from the FIFO
	TxSize   int // 0: unbuffered, writes go straight to the FIFO
	// TxPin and RxPin both zero select the board defaults, as PinDefault does.
	TxPin   Pin
	RxPin   Pin
	Options Options
	// RxHeadroom is the free space below which RxFifoFull is surfaced. Zero selects
	// DefaultRxHeadroom; use UART.SetRxHeadroom to set an explicit zero.
	RxHeadroom int
}

// NotifyCode identifies a lifecycle notification.
type NotifyCode uint8

const (
	NotifyBeforeRead NotifyCode = iota
	NotifyAfterWrite
	NotifyBeforeClose
	NotifyAfterOpen
	NotifyWaitTx
)

func (c NotifyCode) String() string {
	switch c {
	case NotifyBeforeRead:
		return "before-read"
	case NotifyAfterWrite:
		return "after-write"
	case NotifyBeforeClose:
		return "before-close"
	case NotifyAfterOpen:
		return "after-open"
	case NotifyWaitTx:
		return "wait-tx"
	}
	return fmt.Sprintf("NotifyCode(%d)", uint8(c))
}

// Callback is the event callback. It is invoked from interrupt context with the status
// bits that survived the ISR's suppression rules. It runs at interrupt priority and must
// return quickly and never block. It may use the port's own API, for example TryRead in
// raw mode.
type Callback func(u *UART, s Status)

// NotifyFunc is the lifecycle callback. BeforeRead, AfterWrite and WaitTx are invoked from
// whichever context calls Read, Write or WaitTxEmpty; AfterOpen and BeforeClose from the
// goroutine calling Open or Close.
type NotifyFunc func(u *UART, code NotifyCode)
