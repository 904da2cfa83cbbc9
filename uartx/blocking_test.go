package uartx_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jangala-dev/tinygo-uartcore/uartx"
	"github.com/jangala-dev/tinygo-uartcore/uartx/simhw"
)

func TestReadByteBlocking_UnblocksOnInterrupt(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{}, uartx.Config{RxSize: 64})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	var got byte
	var err error

	go func() {
		defer close(done)
		got, err = u.ReadByteBlocking(ctx)
	}()

	time.Sleep(20 * time.Millisecond)

	receive(sim, []byte("Z"))

	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for ReadByteBlocking")
	}

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 'Z' {
		t.Fatalf("got %q want %q", got, 'Z')
	}
}

func TestReadBlocking_ReadsSomeBytes(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{}, uartx.Config{RxSize: 64})

	ctx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()

	buf := make([]byte, 8)
	done := make(chan struct{})
	var n int
	var err error

	go func() {
		defer close(done)
		n, err = u.ReadBlocking(ctx, buf)
	}()

	time.Sleep(10 * time.Millisecond)

	receive(sim, []byte("xyz"))

	select {
	case <-done:
	case <-time.After(400 * time.Millisecond):
		t.Fatal("timeout waiting for ReadBlocking")
	}

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n <= 0 || string(buf[:n]) != "xyz"[:n] {
		t.Fatalf("unexpected data: n=%d data=%q", n, string(buf[:n]))
	}
}

func TestReadFullBlocking_ReadsExactLen(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{}, uartx.Config{RxSize: 64})

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	want := []byte("HELLO")
	got := make([]byte, len(want))

	done := make(chan struct{})
	var n int
	var err error

	go func() {
		defer close(done)
		n, err = u.ReadFullBlocking(ctx, got)
	}()

	time.Sleep(10 * time.Millisecond)

	for i := range want {
		receive(sim, want[i:i+1])
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(600 * time.Millisecond):
		t.Fatal("timeout waiting for ReadFullBlocking")
	}

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(want) || string(got) != string(want) {
		t.Fatalf("got %q (n=%d), want %q", string(got), n, string(want))
	}
}

func TestReadWithTimeout_Expires(t *testing.T) {
	_, _, u := openSim(t, simhw.Config{}, uartx.Config{RxSize: 64})

	start := time.Now()
	n, err := u.ReadWithTimeout(make([]byte, 4), 30*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) || n != 0 {
		t.Fatalf("n=%d err=%v; want 0, deadline exceeded", n, err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("returned before the timeout")
	}
}

func TestWaitReadable_RespectsClose(t *testing.T) {
	_, _, u := openSim(t, simhw.Config{}, uartx.Config{RxSize: 64})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- u.WaitReadable(ctx) }()

	time.Sleep(10 * time.Millisecond)
	u.Close()

	select {
	case err := <-done:
		if !errors.Is(err, uartx.ErrNotOpen) {
			t.Fatalf("err=%v, want ErrNotOpen", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for WaitReadable to return after close")
	}
}

func TestNonBlockingReadAfterMultipleNotifies(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{}, uartx.Config{RxSize: 64})
	// Interrupts with nothing to deliver still post a coalesced wake-up.
	for i := 0; i < 3; i++ {
		sim.InjectBreak()
		sim.Drain(2)
	}
	select {
	case <-u.Readable():
		t.Fatal("break alone should not signal readability")
	default:
	}
	if n, err := u.Read(make([]byte, 4)); err != nil || n != 0 {
		t.Fatalf("Read on empty after interrupts: n=%d err=%v", n, err)
	}
}

func TestWrite_BlocksUntilQueued(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{FIFOSize: 32}, uartx.Config{TxSize: 64})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sim.Run(ctx, time.Millisecond, 8)

	want := pattern(500)
	n, err := u.Write(want)
	if err != nil || n != len(want) {
		t.Fatalf("Write n=%d err=%v", n, err)
	}
	u.WaitTxEmpty()
	cancel()

	if diff := cmp.Diff(want, sim.Wire()); diff != "" {
		t.Fatalf("wire (-want +got):\n%s", diff)
	}
}

func TestWriteContext_CancelledWhileFull(t *testing.T) {
	_, _, u := openSim(t, simhw.Config{FIFOSize: 16}, uartx.Config{TxSize: 16})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	n, err := u.WriteContext(ctx, pattern(100))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline exceeded", err)
	}
	if n != 31 {
		t.Fatalf("queued %d, want 31", n)
	}
}

func TestWrite_ClosedPort(t *testing.T) {
	_, _, u := openSim(t, simhw.Config{FIFOSize: 16}, uartx.Config{TxSize: 16})

	done := make(chan error, 1)
	go func() {
		_, err := u.Write(pattern(100))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	u.Close()

	select {
	case err := <-done:
		if !errors.Is(err, uartx.ErrNotOpen) {
			t.Fatalf("err=%v, want ErrNotOpen", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Write did not return after Close")
	}
	if err := u.WriteByte('x'); !errors.Is(err, uartx.ErrNotOpen) {
		t.Fatalf("WriteByte after Close err=%v", err)
	}
}

func TestLoopback_EndToEnd(t *testing.T) {
	_, sim, u := openSim(t, simhw.Config{FIFOSize: 32}, uartx.Config{RxSize: 256, TxSize: 128})
	simhw.Connect(sim, sim)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go sim.Run(ctx, time.Millisecond, 16)

	want := pattern(1000)
	errc := make(chan error, 1)
	go func() {
		_, err := u.Writev(ctx, want[:300], want[300:])
		errc <- err
	}()

	got := make([]byte, len(want))
	if n, err := u.ReadFullBlocking(ctx, got); err != nil {
		t.Fatalf("ReadFullBlocking n=%d err=%v", n, err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Writev: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("loopback (-want +got):\n%s", diff)
	}
	if st := u.Status(); st.Has(uartx.RxOverflow) {
		t.Fatalf("overflow during loopback: %v", st)
	}
}
