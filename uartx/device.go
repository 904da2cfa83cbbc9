package uartx

// Transport identifies which family of hardware backs a port.
type Transport uint8

const (
	// TransportUART is a standard UART peripheral with baud divisors, line format and
	// hardware error detection.
	TransportUART Transport = iota
	// TransportUSBBridge is a packet-based USB-serial bridge. It has no baud divisor, no
	// break generation and no hardware error flags.
	TransportUSBBridge
)

func (t Transport) String() string {
	if t == TransportUSBBridge {
		return "usb-bridge"
	}
	return "uart"
}

// IntrConfig adjusts FIFO thresholds and the interrupt enable mask.
type IntrConfig struct {
	RxFullThreshold  int    // RxFifoFull fires when the RX FIFO holds more than this
	RxTimeout        int    // idle character times before RxFifoTimeout
	TxEmptyThreshold int    // TxFifoEmpty fires when the TX FIFO holds no more than this
	Mask             Status // sources to clear and reconfigure
	Enable           Status // of Mask, the sources to enable
}

// Device is the hardware FIFO accessor contract shared by every transport. Methods are
// thin register operations: each is atomic with respect to the ISR on its own, and none
// of them blocks or buffers.
//
// The ISR and the port controller are written against this interface only, so they stay
// independent of the transport behind a port.
type Device interface {
	Transport() Transport

	// FIFOSize is the hardware capacity of each FIFO in bytes.
	FIFOSize() int
	// RxLen is the number of bytes waiting in the RX FIFO. Hardware without a level
	// counter reports a lower bound.
	RxLen() int
	// ReadRx moves up to len(p) bytes out of the RX FIFO.
	ReadRx(p []byte) int
	// TxCount is the number of bytes waiting in the TX FIFO.
	TxCount() int
	// WriteTx moves up to len(p) bytes into the TX FIFO and may accept fewer.
	WriteTx(p []byte) int
	ResetRx()
	ResetTx()

	// IntStatus returns the latched sources that are also enabled.
	IntStatus() Status
	// IntRaw returns every latched source regardless of the enable mask.
	IntRaw() Status
	EnableInterrupts(s Status)
	DisableInterrupts(s Status)
	ClearInterrupts(s Status)
	// SetThresholds applies FIFO thresholds, clipped to what the hardware supports.
	SetThresholds(rxFull, rxTimeout, txEmpty int)

	// SetBaudRate programs the nearest achievable divisor and returns the resulting rate.
	SetBaudRate(baud uint32) uint32
	SetFormat(f Format)
	SetBreak(on bool)

	// ValidPin reports whether pin can carry the TX (output) or RX (input) signal.
	ValidPin(pin Pin, output bool) bool
	DefaultPins() (tx, rx Pin)
	RoutePins(tx, rx Pin)

	// Enable turns the peripheral clock on and resets it; Disable turns it off.
	Enable()
	Disable()

	// Attach registers the interrupt handler; Detach removes it. After Detach returns
	// the handler is never invoked again.
	Attach(handler func())
	Detach()
}

// txFree is the room left in the TX FIFO. One slot is held back so that a count equal to
// the capacity never has to be told apart from zero.
func txFree(d Device) int {
	free := d.FIFOSize() - d.TxCount() - 1
	if free < 0 {
		return 0
	}
	return free
}

// txFull reports whether the TX FIFO can accept no more bytes.
func txFull(d Device) bool {
	return d.TxCount() >= d.FIFOSize()-1
}
