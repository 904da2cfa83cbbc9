package uartx

import "strings"

// Status is an event bitmask. Bit positions follow the ESP32 interrupt register so a
// standard peripheral can pass its latched status through unchanged; other transports map
// their own events onto the same meanings.
type Status uint32

const (
	RxFifoFull    Status = 1 << 0  // RX FIFO above threshold, or RX ring nearly full
	TxFifoEmpty   Status = 1 << 1  // TX FIFO below threshold with nothing queued
	ParityError   Status = 1 << 2  // parity error on a received character
	FramingError  Status = 1 << 3  // framing error on a received character
	RxOverflow    Status = 1 << 4  // RX FIFO overflowed, data was lost
	DSRChanged    Status = 1 << 5  // DSR line changed
	CTSChanged    Status = 1 << 6  // CTS line changed
	BreakDetected Status = 1 << 7  // break condition on RX
	RxFifoTimeout Status = 1 << 8  // RX data present, line idle
	TxDone        Status = 1 << 14 // last character has left the shift register
)

// StatusAll covers every defined bit; used to clear all latched sources.
const StatusAll Status = 0x0007ffff

const (
	rxIntrMask  = RxFifoFull | RxFifoTimeout | RxOverflow
	errorStatus = BreakDetected | RxOverflow | FramingError | ParityError
)

var statusNames = []struct {
	bit  Status
	name string
}{
	{RxFifoFull, "rx-full"},
	{TxFifoEmpty, "tx-empty"},
	{ParityError, "parity"},
	{FramingError, "framing"},
	{RxOverflow, "overflow"},
	{DSRChanged, "dsr"},
	{CTSChanged, "cts"},
	{BreakDetected, "break"},
	{RxFifoTimeout, "rx-timeout"},
	{TxDone, "tx-done"},
}

// Has reports whether all bits of m are set.
func (s Status) Has(m Status) bool { return s&m == m }

func (s Status) String() string {
	if s == 0 {
		return "0"
	}
	var parts []string
	for _, n := range statusNames {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, "|")
}
