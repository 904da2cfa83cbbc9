package main

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jangala-dev/tinygo-uartcore/uartx"
	"github.com/jangala-dev/tinygo-uartcore/uartx/simhw"
)

const lineEnding = "\r\n"

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Run the loopback self-test on a simulated UART",
	Long: `Open a simulated UART with its TX line looped back to its RX line and run
the driver through notification, blocking, framing, integrity and throughput checks.

Example:
  uartxctl selftest
  uartxctl selftest --port 2`,
	RunE: runSelftest,
}

func init() {
	rootCmd.AddCommand(selftestCmd)
	selftestCmd.Flags().Int("port", 0, "simulated port index (0-2)")
	selftestCmd.Flags().Bool("stats", false, "print driver counters (needs the uartxdebug build tag)")
}

// selftest holds the port under test and its simulated peripheral.
type selftest struct {
	u    *uartx.UART
	sim  *simhw.Peripheral
	pass int
	fail int
}

func runSelftest(cmd *cobra.Command, args []string) error {
	nr, _ := cmd.Flags().GetInt("port")
	stats, _ := cmd.Flags().GetBool("stats")
	if nr < 0 || nr > 2 {
		return fmt.Errorf("%w: %d", uartx.ErrInvalidPort, nr)
	}

	board, err := newSimBoard(cfg.Sim)
	if err != nil {
		return err
	}
	defer board.stop()
	simhw.Connect(board.sims[nr], board.sims[nr])

	u, err := board.open(nr)
	if err != nil {
		return err
	}
	if u.Mode() != uartx.ModeFull {
		return fmt.Errorf("port %d: self-test needs mode full, have %s", nr, u.Mode())
	}

	logger.Printf("uartx self-test starting on port %d (%d baud, %s)", nr, u.BaudRate(), u.Format())
	st := &selftest{u: u, sim: board.sims[nr]}
	drain(u)
	u.DebugReset()

	st.run("notify: initial Writable after Open", st.initialWritable)
	st.run("sanity: short loopback (Write + blocking Read)", st.shortLoopback)
	st.run("blocking: Read waits for a single byte", st.blockingByte)
	st.run("timeout: no data within 200ms", st.idleTimeout)
	st.run("notify: Readable channel", st.readableChannel)
	st.run("framing: two lines", st.twoLines)
	st.run("binary: 4 KiB integrity (SHA-1)", st.binaryIntegrity)
	st.run("status: break and framing error latch", st.lineErrors)
	st.run("overflow: 8192-byte burst", st.overflowBurst)
	st.run("throughput: 32 KiB (event-driven TX)", st.throughput)
	st.run("format: SetFormat 7E1", st.setFormat)

	fmt.Println()
	fmt.Println("Summary")
	fmt.Printf("  passed = %d\n", st.pass)
	fmt.Printf("  failed = %d\n", st.fail)
	if stats {
		fmt.Printf("  stats  = %+v\n", u.DebugStats())
		fmt.Printf("  regs   = %+v\n", u.DebugRegs())
	}
	if st.fail > 0 {
		return fmt.Errorf("%d test(s) failed", st.fail)
	}
	return nil
}

func (st *selftest) run(name string, f func() string) {
	fmt.Println()
	fmt.Println("[Test]", name)
	drain(st.u)
	if msg := f(); msg == "" {
		fmt.Println("  PASS")
		st.pass++
	} else {
		fmt.Println("  FAIL:", msg)
		st.fail++
	}
}

// echo writes msg and expects it back within d.
func (st *selftest) echo(msg []byte, d time.Duration) string {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if _, err := st.u.WriteContext(ctx, msg); err != nil {
		return "write failed: " + err.Error()
	}
	got := make([]byte, len(msg))
	if _, err := st.u.ReadFullBlocking(ctx, got); err != nil {
		return "timeout"
	}
	if !bytes.Equal(got, msg) {
		return "mismatch"
	}
	return ""
}

func (st *selftest) initialWritable() string {
	select {
	case <-st.u.Writable():
	case <-time.After(750 * time.Millisecond):
		if st.u.TxFree() == 0 {
			return "no initial Writable"
		}
	}
	return st.echo([]byte("X"), 750*time.Millisecond)
}

func (st *selftest) shortLoopback() string {
	return st.echo([]byte("hello, uartx"+lineEnding), time.Second)
}

func (st *selftest) blockingByte() string {
	const want = 'Z'
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _, _ = st.u.WriteContext(ctx, []byte{want}) }()
	b, err := st.u.ReadByteBlocking(ctx)
	if err != nil {
		return "read error: " + err.Error()
	}
	if b != want {
		return "wrong byte"
	}
	return ""
}

func (st *selftest) idleTimeout() string {
	var b [1]byte
	n, err := st.u.ReadWithTimeout(b[:], 200*time.Millisecond)
	if n != 0 {
		return "unexpected data"
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("unexpected error %v", err)
	}
	return ""
}

func (st *selftest) readableChannel() string {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _, _ = st.u.WriteContext(ctx, []byte("AB")) }()
	select {
	case <-st.u.Readable():
		got := make([]byte, 2)
		if _, err := st.u.ReadFullBlocking(ctx, got); err != nil || string(got) != "AB" {
			return "wrong data"
		}
		return ""
	case <-ctx.Done():
		return "no notification"
	}
}

func (st *selftest) twoLines() string {
	return st.echo([]byte("first line\r\nsecond line\n"), time.Second)
}

func (st *selftest) binaryIntegrity() string {
	n := 4 * 1024
	src := make([]byte, n)
	var x uint32 = 0x12345678
	for i := range src {
		x = 1664525*x + 1013904223
		src[i] = byte(x >> 24)
	}
	want := sha1.Sum(src)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() { _, _ = st.u.WriteContext(ctx, src) }()
	got := make([]byte, n)
	if m, err := st.u.ReadFullBlocking(ctx, got); err != nil || m != n {
		return "timeout/short read"
	}
	if sha1.Sum(got) != want {
		return "hash mismatch"
	}
	return ""
}

func (st *selftest) lineErrors() string {
	_ = st.u.Status()
	st.sim.InjectBreak()
	st.sim.InjectFramingError()
	time.Sleep(20 * time.Millisecond)
	s := st.u.Status()
	if s&uartx.BreakDetected == 0 || s&uartx.FramingError == 0 {
		return "status " + s.String()
	}
	if again := st.u.Status(); again&(uartx.BreakDetected|uartx.FramingError) != 0 {
		return "flags not cleared: " + again.String()
	}
	return ""
}

// overflowBurst pushes more than the RX side holds without reading. The driver must
// report the overflow and keep working afterwards.
func (st *selftest) overflowBurst() string {
	n := 8192
	src := make([]byte, n)
	for i := range src {
		src[i] = byte(i)
	}
	_ = st.u.Status()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := st.u.WriteContext(ctx, src); err != nil {
		return "write stalled: " + err.Error()
	}
	st.u.WaitTxEmpty()
	time.Sleep(20 * time.Millisecond)

	s := st.u.Status()
	fmt.Printf("  status = %s, buffered = %d, dropped = %d\n", s, st.u.Buffered(), st.sim.Dropped())
	if st.sim.Dropped() > 0 && s&uartx.RxOverflow == 0 {
		return "bytes dropped without an overflow flag"
	}
	st.u.Flush(uartx.ModeRxOnly)
	return st.echo([]byte("after-overflow"), time.Second)
}

func (st *selftest) throughput() string {
	n := 32 * 1024
	src := make([]byte, n)
	for i := range src {
		src[i] = byte(i * 31)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() { _, _ = st.u.WriteContext(ctx, src) }()
	got := make([]byte, n)
	if _, err := st.u.ReadFullBlocking(ctx, got); err != nil {
		return "timeout"
	}
	if !bytes.Equal(got, src) {
		return "mismatch"
	}

	elapsed := time.Since(start)
	fmt.Printf("  speed = %.2f kbps\n", float64(n*8)/elapsed.Seconds()/1000)
	return ""
}

func (st *selftest) setFormat() string {
	f := uartx.Format{DataBits: 7, Parity: uartx.ParityEven, StopBits: uartx.StopBits1}
	if err := st.u.SetFormat(f); err != nil {
		return err.Error()
	}
	defer func() { _ = st.u.SetFormat(uartx.Format8N1) }()
	if st.sim.Format() != f {
		return "peripheral not reprogrammed"
	}
	return st.echo([]byte("format-ok"+lineEnding), time.Second)
}
