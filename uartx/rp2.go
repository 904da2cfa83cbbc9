//go:build rp2040 || rp2350

package uartx

import (
	"device/rp"
	"machine"
	"runtime/interrupt"
)

// PL011 interrupt bit positions, shared by IMSC, RIS, MIS and ICR.
const (
	pl011CTSM = 1 << 1
	pl011DSRM = 1 << 3
	pl011RX   = 1 << 4
	pl011TX   = 1 << 5
	pl011RT   = 1 << 6
	pl011FE   = 1 << 7
	pl011PE   = 1 << 8
	pl011BE   = 1 << 9
	pl011OE   = 1 << 10

	pl011FIFOSize = 32
)

var pl011Bits = [...]struct {
	hw uint32
	st Status
}{
	{pl011RX, RxFifoFull},
	{pl011RT, RxFifoTimeout},
	{pl011TX, TxFifoEmpty},
	{pl011FE, FramingError},
	{pl011PE, ParityError},
	{pl011BE, BreakDetected},
	{pl011OE, RxOverflow},
	{pl011CTSM, CTSChanged},
	{pl011DSRM, DSRChanged},
}

func toPL011(s Status) (v uint32) {
	for _, b := range pl011Bits {
		if s&b.st != 0 {
			v |= b.hw
		}
	}
	return v
}

func fromPL011(v uint32) (s Status) {
	for _, b := range pl011Bits {
		if v&b.hw != 0 {
			s |= b.st
		}
	}
	return s
}

// PL011 is the Device for one RP2040/RP2350 UART. The PL011 has no FIFO level counters,
// so RxLen and TxCount are derived from the FIFO flags.
type PL011 struct {
	Bus       *rp.UART0_Type
	Interrupt interrupt.Interrupt

	reset   uint32
	txPins  []Pin
	rxPins  []Pin
	handler func()
}

var (
	pl0110 = &PL011{
		Bus:    rp.UART0,
		reset:  rp.RESETS_RESET_UART0,
		txPins: []Pin{0, 12, 16, 28},
		rxPins: []Pin{1, 13, 17, 29},
	}
	pl0111 = &PL011{
		Bus:    rp.UART1,
		reset:  rp.RESETS_RESET_UART1,
		txPins: []Pin{4, 8, 20, 24},
		rxPins: []Pin{5, 9, 21, 25},
	}
)

func init() {
	pl0110.Interrupt = interrupt.New(rp.IRQ_UART0_IRQ, pl0110.handleInterrupt)
	pl0111.Interrupt = interrupt.New(rp.IRQ_UART1_IRQ, pl0111.handleInterrupt)
	_ = Default.Bind(0, pl0110)
	_ = Default.Bind(1, pl0111)
}

func (p *PL011) handleInterrupt(interrupt.Interrupt) {
	if p.handler != nil {
		p.handler()
	}
}

func (p *PL011) Transport() Transport { return TransportUART }
func (p *PL011) FIFOSize() int        { return pl011FIFOSize }

func (p *PL011) RxLen() int {
	if p.Bus.UARTFR.HasBits(rp.UART0_UARTFR_RXFE) {
		return 0
	}
	return 1
}

// ReadRx drains DR until RXFE. Bytes received with a break, parity or framing error are
// dropped; the error itself stays latched in RIS for Status. OE marks an overrun after a
// valid byte, so that byte is kept.
func (p *PL011) ReadRx(buf []byte) int {
	n := 0
	for n < len(buf) && !p.Bus.UARTFR.HasBits(rp.UART0_UARTFR_RXFE) {
		r := p.Bus.UARTDR.Get()
		if r&(rp.UART0_UARTDR_BE|rp.UART0_UARTDR_PE|rp.UART0_UARTDR_FE) != 0 {
			continue
		}
		buf[n] = byte(r & 0xFF)
		n++
	}
	return n
}

func (p *PL011) TxCount() int {
	switch {
	case p.Bus.UARTFR.HasBits(rp.UART0_UARTFR_TXFE):
		return 0
	case p.Bus.UARTFR.HasBits(rp.UART0_UARTFR_TXFF):
		return pl011FIFOSize - 1
	}
	return 1
}

func (p *PL011) WriteTx(buf []byte) int {
	i := 0
	for i < len(buf) && !p.Bus.UARTFR.HasBits(rp.UART0_UARTFR_TXFF) {
		p.Bus.UARTDR.Set(uint32(buf[i]))
		i++
	}
	return i
}

func (p *PL011) ResetRx() {
	for !p.Bus.UARTFR.HasBits(rp.UART0_UARTFR_RXFE) {
		_ = p.Bus.UARTDR.Get()
	}
	// Clear sticky RX errors (ECR share-address via RSR).
	p.Bus.UARTRSR.Set(0)
}

// ResetTx is a no-op: clearing FEN would flush the RX FIFO too.
func (p *PL011) ResetTx() {}

func (p *PL011) IntStatus() Status { return fromPL011(p.Bus.UARTMIS.Get()) }
func (p *PL011) IntRaw() Status    { return fromPL011(p.Bus.UARTRIS.Get()) }

func (p *PL011) EnableInterrupts(s Status)  { p.Bus.UARTIMSC.SetBits(toPL011(s)) }
func (p *PL011) DisableInterrupts(s Status) { p.Bus.UARTIMSC.ClearBits(toPL011(s)) }
func (p *PL011) ClearInterrupts(s Status)   { p.Bus.UARTICR.Set(toPL011(s)) }

// SetThresholds picks the nearest IFLS fraction (1/8..7/8 of 32). The receive timeout is
// fixed at 32 bit periods in this peripheral.
func (p *PL011) SetThresholds(rxFull, rxTimeout, txEmpty int) {
	ifls := p.Bus.UARTIFLS.Get()
	if rxFull >= 0 {
		ifls = ifls&^(0x7<<3) | iflsLevel(rxFull)<<3
	}
	if txEmpty >= 0 {
		ifls = ifls&^0x7 | iflsLevel(txEmpty)
	}
	p.Bus.UARTIFLS.Set(ifls)
}

func iflsLevel(n int) uint32 {
	levels := [...]int{4, 8, 16, 24, 28}
	best := 0
	for i, l := range levels {
		if abs(n-l) < abs(n-levels[best]) {
			best = i
		}
	}
	return uint32(best)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// SetBaudRate programs the PL011 integer and fractional divisors and performs
// the "dummy" LCR_H write required to latch them.
func (p *PL011) SetBaudRate(br uint32) uint32 {
	clk := machine.CPUFrequency()
	div := 8 * clk / br

	ibrd := div >> 7
	var fbrd uint32
	switch {
	case ibrd == 0:
		ibrd = 1
		fbrd = 0
	case ibrd >= 65535:
		ibrd = 65535
		fbrd = 0
	default:
		fbrd = ((div & 0x7f) + 1) / 2
	}

	p.Bus.UARTIBRD.Set(ibrd)
	p.Bus.UARTFBRD.Set(fbrd)

	// PL011 requires an LCR_H write after changing divisors.
	p.Bus.UARTLCR_H.Set(p.Bus.UARTLCR_H.Get())

	return uint32(uint64(clk) * 4 / uint64(ibrd*64+fbrd))
}

// SetFormat writes the full LCR_H value (not OR-ing) and keeps the FIFOs enabled. The
// PL011 has no 1.5 stop bit setting; it is rounded up to 2.
func (p *PL011) SetFormat(f Format) {
	var pen, pev uint32
	if f.Parity != ParityNone {
		pen = rp.UART0_UARTLCR_H_PEN
		if f.Parity == ParityEven {
			pev = rp.UART0_UARTLCR_H_EPS
		}
	}
	var stp2 uint32
	if f.StopBits != StopBits1 {
		stp2 = 1
	}
	const fen = rp.UART0_UARTLCR_H_FEN

	val := uint32(f.DataBits-5)<<rp.UART0_UARTLCR_H_WLEN_Pos |
		stp2<<rp.UART0_UARTLCR_H_STP2_Pos |
		pen | pev | fen
	val |= p.Bus.UARTLCR_H.Get() & rp.UART0_UARTLCR_H_BRK

	p.Bus.UARTLCR_H.Set(val)
}

func (p *PL011) SetBreak(on bool) {
	if on {
		p.Bus.UARTLCR_H.SetBits(rp.UART0_UARTLCR_H_BRK)
	} else {
		p.Bus.UARTLCR_H.ClearBits(rp.UART0_UARTLCR_H_BRK)
	}
}

func (p *PL011) ValidPin(pin Pin, output bool) bool {
	pins := p.rxPins
	if output {
		pins = p.txPins
	}
	for _, v := range pins {
		if v == pin {
			return true
		}
	}
	return false
}

func (p *PL011) DefaultPins() (tx, rx Pin) {
	if p == pl0110 {
		return Pin(machine.UART_TX_PIN), Pin(machine.UART_RX_PIN)
	}
	return p.txPins[0], p.rxPins[0]
}

func (p *PL011) RoutePins(tx, rx Pin) {
	for _, pin := range []Pin{tx, rx} {
		if pin.assigned() {
			machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinUART})
		}
	}
}

// Enable asserts and releases the peripheral reset, then enables the UART with RX and TX.
func (p *PL011) Enable() {
	rp.RESETS.RESET.SetBits(p.reset)
	rp.RESETS.RESET.ClearBits(p.reset)
	for !rp.RESETS.RESET_DONE.HasBits(p.reset) {
	}
	p.Bus.UARTIMSC.Set(0)
	p.Bus.UARTICR.Set(0x7FF) // clear all PL011 interrupts
	p.Bus.UARTCR.Set(rp.UART0_UARTCR_UARTEN | rp.UART0_UARTCR_RXE | rp.UART0_UARTCR_TXE)
}

func (p *PL011) Disable() {
	p.Bus.UARTIMSC.Set(0)
	p.Bus.UARTCR.ClearBits(rp.UART0_UARTCR_UARTEN | rp.UART0_UARTCR_RXE | rp.UART0_UARTCR_TXE)
	rp.RESETS.RESET.SetBits(p.reset)
}

func (p *PL011) Attach(handler func()) {
	p.handler = handler
	p.Interrupt.SetPriority(0x80)
	p.Interrupt.Enable()
}

// Detach leaves the NVIC line enabled; with no handler and IMSC cleared by the caller a
// pending interrupt is a no-op.
func (p *PL011) Detach() {
	p.handler = nil
}
