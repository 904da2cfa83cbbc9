package uartx_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jangala-dev/tinygo-uartcore/uartx"
	"github.com/jangala-dev/tinygo-uartcore/uartx/simhw"
)

func TestRead_NonBlockingSemantics(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{}, uartx.Config{RxSize: 64})
	buf := make([]byte, 8)

	if n, err := u.Read(buf); err != nil || n != 0 {
		t.Fatalf("Read on empty: n=%d err=%v; want 0,nil", n, err)
	}

	receive(sim, []byte("ABC"))

	n, err := u.Read(buf)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n != 3 || string(buf[:n]) != "ABC" {
		t.Fatalf("got n=%d data=%q; want 3, \"ABC\"", n, string(buf[:n]))
	}

	if n, _ := u.Read(buf); n != 0 {
		t.Fatalf("expected empty after drain, got n=%d", n)
	}
	if _, err := u.ReadByte(); err == nil {
		t.Fatal("ReadByte on empty port returned no error")
	}
}

func TestRead_UnbufferedComesFromFIFO(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{}, uartx.Config{})
	sim.Inject([]byte("direct"))

	if got := u.RxAvailable(); got != 6 {
		t.Fatalf("RxAvailable %d, want 6", got)
	}
	buf := make([]byte, 4)
	if n := u.TryRead(buf); n != 4 || string(buf) != "dire" {
		t.Fatalf("TryRead n=%d %q", n, buf[:n])
	}
	if b, err := u.ReadByte(); err != nil || b != 'c' {
		t.Fatalf("ReadByte %q, %v", b, err)
	}
}

func TestTryWrite_PartialThenRest(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{FIFOSize: 16}, uartx.Config{TxSize: 32})
	want := pattern(60)

	// 15 in the FIFO (one slot held back) plus 32 in the ring.
	if got := u.TxFree(); got != 47 {
		t.Fatalf("TxFree %d, want 47", got)
	}
	n := u.TryWrite(want)
	if n != 47 {
		t.Fatalf("TryWrite accepted %d, want 47", n)
	}
	if u.TxFree() != 0 {
		t.Fatalf("TxFree %d after filling", u.TxFree())
	}
	if m := u.TryWrite(want[n:]); m != 0 {
		t.Fatalf("TryWrite with no room accepted %d", m)
	}

	// One FIFO's worth leaves the wire; the ISR refills from the ring.
	sim.Shift(16)
	sim.Drain(16)

	if m := u.TryWrite(want[n:]); m != len(want)-n {
		t.Fatalf("second TryWrite accepted %d, want %d", m, len(want)-n)
	}

	got := append(sim.Wire(), pump(sim, len(want))...)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("wire (-want +got):\n%s", diff)
	}
}

func TestTryWrite_UnbufferedFillsFIFOOnly(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{FIFOSize: 16}, uartx.Config{})
	if n := u.TryWrite(pattern(40)); n != 15 {
		t.Fatalf("TryWrite %d, want 15", n)
	}
	if sim.TxCount() != 15 {
		t.Fatalf("FIFO holds %d", sim.TxCount())
	}
}

func TestFlush(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{FIFOSize: 16}, uartx.Config{RxSize: 32, TxSize: 64})

	u.TryWrite(pattern(50))
	receive(sim, []byte("stale"))
	if u.Buffered() != 5 {
		t.Fatalf("Buffered %d, want 5", u.Buffered())
	}

	u.Flush(uartx.ModeTxOnly)
	if sim.TxCount() != 0 || u.TxFree() != 15+64 {
		t.Fatalf("after TX flush: FIFO %d, TxFree %d", sim.TxCount(), u.TxFree())
	}
	if sim.Enabled().Has(uartx.TxFifoEmpty) {
		t.Fatal("TxFifoEmpty enabled after TX flush")
	}
	if u.Buffered() != 5 {
		t.Fatalf("TX flush touched RX: Buffered %d", u.Buffered())
	}

	sim.Inject([]byte("more"))
	u.Flush(uartx.ModeRxOnly)
	if got := u.RxAvailable(); got != 0 {
		t.Fatalf("RxAvailable %d after RX flush", got)
	}
	const rxSources = uartx.RxFifoFull | uartx.RxFifoTimeout | uartx.RxOverflow
	if sim.Enabled()&rxSources != rxSources {
		t.Fatalf("RX sources not re-armed: %v", sim.Enabled())
	}
}

func TestStatus_AccumulatesAndClears(t *testing.T) {
	var log eventLog
	_, sim, u := openSim(t, simhw.Config{}, uartx.Config{RxSize: 32})
	u.SetCallback(log.callback)

	sim.InjectBreak()
	sim.Drain(4)
	sim.InjectFramingError() // not an interrupt source; only latched

	if log.count(uartx.BreakDetected) != 1 {
		t.Fatalf("callback events %v, want one break", log.events)
	}
	want := uartx.BreakDetected | uartx.FramingError
	if got := u.Status(); got != want {
		t.Fatalf("Status %v, want %v", got, want)
	}
	if got := u.Status(); got != 0 {
		t.Fatalf("Status %v after read, want 0", got)
	}
}

func TestStatus_String(t *testing.T) {
	s := uartx.RxOverflow | uartx.BreakDetected
	if got := s.String(); got != "overflow|break" {
		t.Fatalf("String %q", got)
	}
	if got := uartx.Status(0).String(); got != "0" {
		t.Fatalf("String %q", got)
	}
}

func TestLineSettings(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{}, uartx.Config{BaudRate: 115200})

	// 80 MHz with a 1/16 fractional divider cannot hit 115200 exactly.
	if got := u.BaudRate(); got != 115201 {
		t.Fatalf("BaudRate %d, want 115201", got)
	}
	for _, tc := range []struct{ req, want uint32 }{
		{9600, 9600},
		{1000000, 1000000},
		{3000000, 3004694},
		{0, 0},
	} {
		if got := u.SetBaudRate(tc.req); got != tc.want {
			t.Errorf("SetBaudRate(%d) = %d, want %d", tc.req, got, tc.want)
		}
	}

	if u.Format() != uartx.Format8N1 || sim.Format() != uartx.Format8N1 {
		t.Fatalf("default format %v / %v", u.Format(), sim.Format())
	}
	f := uartx.Format{DataBits: 7, Parity: uartx.ParityEven, StopBits: uartx.StopBits2}
	if err := u.SetFormat(f); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if sim.Format() != f || f.String() != "7E2" {
		t.Fatalf("format %v (%s)", sim.Format(), f)
	}
	if err := u.SetFormat(uartx.Format{DataBits: 9}); !errors.Is(err, uartx.ErrInvalidFormat) {
		t.Fatalf("SetFormat(9 bits) err=%v", err)
	}

	u.SetBreak(true)
	if !sim.Break() {
		t.Fatal("break not asserted")
	}
	u.SetBreak(false)
	if sim.Break() {
		t.Fatal("break not released")
	}
}

func TestConfigureInterrupts(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{}, uartx.Config{})

	ok := u.ConfigureInterrupts(uartx.IntrConfig{
		RxFullThreshold:  0,
		RxTimeout:        3,
		TxEmptyThreshold: 20,
		Mask:             uartx.TxDone | uartx.BreakDetected,
		Enable:           uartx.TxDone,
	})
	if !ok {
		t.Fatal("ConfigureInterrupts refused a UART port")
	}
	rxFull, rxTimeout, txEmpty := sim.Thresholds()
	if rxFull != 1 || rxTimeout != 3 || txEmpty != 20 {
		t.Fatalf("thresholds %d/%d/%d, want 1/3/20", rxFull, rxTimeout, txEmpty)
	}
	en := sim.Enabled()
	if !en.Has(uartx.TxDone) || en.Has(uartx.BreakDetected) {
		t.Fatalf("enable mask %v", en)
	}
}

func TestConfigureInterrupts_BufferedKeepsRxThreshold(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{}, uartx.Config{RxSize: 64})
	u.ConfigureInterrupts(uartx.IntrConfig{RxFullThreshold: 10})
	if rxFull, _, _ := sim.Thresholds(); rxFull != 120 {
		t.Fatalf("RX full threshold %d, want 120", rxFull)
	}
}

func TestModeLimitsDirections(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{}, uartx.Config{Mode: uartx.ModeRxOnly, RxSize: 16, TxSize: 16})
	if n := u.TryWrite([]byte("x")); n != 0 || u.TxFree() != 0 {
		t.Fatalf("rx-only port accepted %d bytes, TxFree %d", n, u.TxFree())
	}
	tx, rx := u.Pins()
	if tx != uartx.PinNone || rx != 3 {
		t.Fatalf("pins %d/%d, want none/3", tx, rx)
	}
	receive(sim, []byte("in"))
	if u.Buffered() != 2 {
		t.Fatalf("Buffered %d", u.Buffered())
	}
}

func TestWaitTxEmpty(t *testing.T) {
	reg, sim, u := openSim(t, simhw.Config{FIFOSize: 16}, uartx.Config{TxSize: 64})
	// Clock the line from the busy-wait itself.
	reg.SetWatchdog(uartx.WatchdogFunc(func() {
		sim.Shift(4)
		sim.Service()
	}))

	u.TryWrite(pattern(60))
	u.WaitTxEmpty()
	if sim.TxCount() != 0 || u.TxFree() != 15+64 {
		t.Fatalf("FIFO %d, TxFree %d after WaitTxEmpty", sim.TxCount(), u.TxFree())
	}
	if diff := cmp.Diff(pattern(60), sim.Wire()); diff != "" {
		t.Fatalf("wire (-want +got):\n%s", diff)
	}
}

func TestTxWaitOption(t *testing.T) {
	reg, sim, u := openSim(t, simhw.Config{FIFOSize: 16}, uartx.Config{TxSize: 16, Options: uartx.OptTxWait})
	feeds := 0
	reg.SetWatchdog(uartx.WatchdogFunc(func() {
		feeds++
		sim.Shift(8)
		sim.Service()
	}))

	if n := u.TryWrite(pattern(100)); n != 100 {
		t.Fatalf("TryWrite with OptTxWait accepted %d", n)
	}
	if feeds == 0 {
		t.Fatal("watchdog never fed while waiting")
	}
	got := append(sim.Wire(), pump(sim, 100)...)
	if diff := cmp.Diff(pattern(100), got); diff != "" {
		t.Fatalf("wire (-want +got):\n%s", diff)
	}
}
