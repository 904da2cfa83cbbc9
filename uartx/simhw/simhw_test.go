package simhw

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jangala-dev/tinygo-uartcore/uartx"
)

func enabled(cfg Config) *Peripheral {
	p := New(cfg)
	p.Enable()
	return p
}

func TestBaudQuantisation(t *testing.T) {
	p := New(Config{})
	tests := []struct{ req, want uint32 }{
		{115200, 115201},
		{9600, 9600},
		{1000000, 1000000},
		{3000000, 3004694},
		{0, 0},
	}
	for _, tt := range tests {
		if got := p.SetBaudRate(tt.req); got != tt.want {
			t.Errorf("SetBaudRate(%d) = %d, want %d", tt.req, got, tt.want)
		}
	}
}

func TestInjectOverflowDrops(t *testing.T) {
	p := enabled(Config{FIFOSize: 16})
	if n := p.Inject(make([]byte, 20)); n != 16 {
		t.Fatalf("Inject accepted %d, want 16", n)
	}
	if p.Dropped() != 4 || !p.IntRaw().Has(uartx.RxOverflow) {
		t.Fatalf("dropped=%d raw=%s", p.Dropped(), p.IntRaw())
	}

	p.Disable()
	if n := p.Inject([]byte{1}); n != 0 {
		t.Fatalf("disabled peripheral received %d bytes", n)
	}
}

func TestLevelSourcesRelatch(t *testing.T) {
	p := enabled(Config{FIFOSize: 16})
	p.SetThresholds(4, -1, 2)

	// An empty TX FIFO is at or below the empty threshold.
	p.ClearInterrupts(uartx.TxFifoEmpty)
	if !p.IntRaw().Has(uartx.TxFifoEmpty) {
		t.Fatal("TxFifoEmpty did not re-latch on an empty FIFO")
	}
	p.WriteTx(make([]byte, 8))
	p.ClearInterrupts(uartx.TxFifoEmpty)
	if p.IntRaw().Has(uartx.TxFifoEmpty) {
		t.Fatal("TxFifoEmpty latched above the threshold")
	}

	p.Inject(make([]byte, 5))
	p.ClearInterrupts(uartx.RxFifoFull)
	if !p.IntRaw().Has(uartx.RxFifoFull) {
		t.Fatal("RxFifoFull did not re-latch while above the threshold")
	}
	p.ReadRx(make([]byte, 5))
	p.ClearInterrupts(uartx.RxFifoFull)
	if p.IntRaw().Has(uartx.RxFifoFull) {
		t.Fatal("RxFifoFull latched on an empty FIFO")
	}
}

func TestThresholdsClamped(t *testing.T) {
	p := enabled(Config{FIFOSize: 16})
	p.SetThresholds(0, 500, 99)
	rxFull, rxTimeout, txEmpty := p.Thresholds()
	if rxFull != 1 || rxTimeout != 126 || txEmpty != 15 {
		t.Fatalf("thresholds = %d/%d/%d", rxFull, rxTimeout, txEmpty)
	}
	p.SetThresholds(-1, -1, -1)
	if got, _, _ := p.Thresholds(); got != 1 {
		t.Fatalf("negative threshold changed rxFull to %d", got)
	}
}

func TestShiftToWireAndPeer(t *testing.T) {
	a := enabled(Config{})
	b := enabled(Config{})

	a.WriteTx([]byte("hello"))
	if n := a.Shift(3); n != 3 {
		t.Fatalf("Shift = %d", n)
	}
	if a.IntRaw().Has(uartx.TxDone) {
		t.Fatal("TxDone before the FIFO emptied")
	}
	a.Shift(10)
	if !a.IntRaw().Has(uartx.TxDone) {
		t.Fatal("TxDone not latched")
	}
	if diff := cmp.Diff([]byte("hello"), a.Wire()); diff != "" {
		t.Fatalf("wire (-want +got):\n%s", diff)
	}

	Connect(a, b)
	a.WriteTx([]byte("xy"))
	a.SetBreak(true)
	if a.Shift(2) != 0 {
		t.Fatal("bytes shifted during break")
	}
	a.SetBreak(false)
	a.Shift(2)
	got := make([]byte, 4)
	if n := b.ReadRx(got); n != 2 || string(got[:n]) != "xy" {
		t.Fatalf("peer received %q", got[:n])
	}
	if len(a.Wire()) != 0 {
		t.Fatal("connected peripheral also wrote to the wire")
	}
}

func TestIdleLatchesTimeout(t *testing.T) {
	p := enabled(Config{})
	p.Idle()
	if p.IntRaw().Has(uartx.RxFifoTimeout) {
		t.Fatal("timeout on an empty FIFO")
	}
	p.Inject([]byte{1})
	p.Idle()
	if !p.IntRaw().Has(uartx.RxFifoTimeout) {
		t.Fatal("timeout not latched")
	}
}

func TestLineEvents(t *testing.T) {
	p := enabled(Config{})
	p.InjectBreak()
	p.InjectParityError()
	p.SetCTS(true)
	p.SetDSR(false)
	raw := p.IntRaw()
	want := uartx.BreakDetected | uartx.ParityError | uartx.CTSChanged
	if !raw.Has(want) || raw.Has(uartx.DSRChanged) {
		t.Fatalf("raw = %s", raw)
	}
}

func TestPins(t *testing.T) {
	p := New(Config{})
	if tx, rx := p.DefaultPins(); tx != 1 || rx != 3 {
		t.Fatalf("default pins %d/%d", tx, rx)
	}
	if !p.ValidPin(36, false) || p.ValidPin(36, true) {
		t.Fatal("input-only pin handling")
	}
	if p.ValidPin(40, false) || p.ValidPin(-1, false) {
		t.Fatal("out of range pin accepted")
	}
	p.RoutePins(4, uartx.PinNoChange)
	p.RoutePins(uartx.PinNoChange, 5)
	if tx, rx := p.Pins(); tx != 4 || rx != 5 {
		t.Fatalf("routed pins %d/%d", tx, rx)
	}
}

func TestServiceAndRun(t *testing.T) {
	p := enabled(Config{})
	calls := 0
	p.Attach(func() {
		calls++
		p.ClearInterrupts(p.IntStatus())
		p.DisableInterrupts(uartx.TxFifoEmpty)
	})
	if p.Service() {
		t.Fatal("serviced with nothing enabled")
	}
	p.Inject([]byte{1})
	p.Idle()
	p.EnableInterrupts(uartx.RxFifoTimeout | uartx.TxFifoEmpty)
	if n := p.Drain(8); n != 1 || calls != 1 {
		t.Fatalf("Drain ran %d passes, %d calls", n, calls)
	}

	p.Detach()
	if p.Attached() {
		t.Fatal("still attached")
	}
	p.Attach(func() { calls++ })

	p.EnableInterrupts(uartx.TxDone)
	p.WriteTx([]byte("abc"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p.Run(ctx, time.Millisecond, 1)
	if p.TxCount() != 0 || calls < 2 {
		t.Fatalf("Run left %d bytes, %d calls", p.TxCount(), calls)
	}
}
