package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jangala-dev/tinygo-uartcore/uartx"
	"github.com/jangala-dev/tinygo-uartcore/uartx/simhw"
)

const (
	sendChunk      = 192 // bytes per WriteContext burst
	recvChunk      = 256 // bytes per ReadBlocking call
	contextRadius  = 16  // surrounding bytes shown on mismatch (before/after pivot)
	extraFollowing = 128 // additional bytes to read and print after the first mismatch
)

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Cross-port integrity test between simulated ports 0 and 1",
	Long: `Cross-wire simulated ports 0 and 1 (TX of each to RX of the other) and stream a
deterministic pattern through them, checking every byte. On the first mismatch the
expected and received bytes around it are dumped.

Example:
  uartxctl integrity
  uartxctl integrity --bytes 262144 --duplex=false`,
	RunE: runIntegrity,
}

func init() {
	rootCmd.AddCommand(integrityCmd)
	integrityCmd.Flags().Int("bytes", 64*1024, "bytes per direction")
	integrityCmd.Flags().Bool("duplex", true, "run both directions at once")
	integrityCmd.Flags().Duration("timeout", 10*time.Second, "time allowed per run")
}

func patternA(i int) byte { return byte((i*31 + 0x55) & 0xFF) }
func patternB(i int) byte { return byte((i*17 + 0xA6) & 0xFF) }

func runIntegrity(cmd *cobra.Command, args []string) error {
	n, _ := cmd.Flags().GetInt("bytes")
	duplex, _ := cmd.Flags().GetBool("duplex")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	board, err := newSimBoard(cfg.Sim)
	if err != nil {
		return err
	}
	defer board.stop()
	simhw.Connect(board.sims[0], board.sims[1])

	u0, err := board.open(0)
	if err != nil {
		return err
	}
	u1, err := board.open(1)
	if err != nil {
		return err
	}
	if u0.BaudRate() != u1.BaudRate() || u0.Format() != u1.Format() {
		warnf("line settings differ: %d %s vs %d %s", u0.BaudRate(), u0.Format(), u1.BaudRate(), u1.Format())
	}

	logger.Printf("uartx integrity test: bytes/dir=%d duplex=%t", n, duplex)
	drain(u0)
	drain(u1)

	pass, fail := 0, 0
	report := func(name, msg string) {
		if msg == "" {
			fmt.Println("[PASS]", name)
			pass++
		} else {
			fmt.Println("[FAIL]", name, ":", msg)
			fail++
		}
	}

	if duplex {
		report("Full-duplex integrity", runFullDuplex(u0, u1, n, timeout))
	} else {
		report("U0 -> U1 integrity", runOneWay(u0, u1, patternA, n, timeout))
		report("U1 -> U0 integrity", runOneWay(u1, u0, patternB, n, timeout))
	}

	for i, u := range []*uartx.UART{u0, u1} {
		if s := u.Status(); s&(uartx.RxOverflow|uartx.FramingError|uartx.ParityError) != 0 {
			warnf("port %d status: %s (dropped %d)", i, s, board.sims[i].Dropped())
		}
	}

	fmt.Println()
	fmt.Println("Summary")
	fmt.Printf("  passed = %d\n", pass)
	fmt.Printf("  failed = %d\n", fail)
	if fail > 0 {
		return fmt.Errorf("%d run(s) failed", fail)
	}
	return nil
}

func runOneWay(tx, rx *uartx.UART, gen func(int) byte, n int, timeout time.Duration) string {
	drain(tx)
	drain(rx)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	errCh := make(chan string, 1)
	go func() { errCh <- recvAndCheckStream(ctx, rx, gen, n) }()
	_ = sendPattern(ctx, tx, gen, n)
	return <-errCh
}

func runFullDuplex(u0, u1 *uartx.UART, n int, timeout time.Duration) string {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Receivers first.
	errCh := make(chan string, 2)
	go func() { errCh <- recvAndCheckStream(ctx, u1, patternA, n) }()
	go func() { errCh <- recvAndCheckStream(ctx, u0, patternB, n) }()

	go func() { _ = sendPattern(ctx, u0, patternA, n) }()
	go func() { _ = sendPattern(ctx, u1, patternB, n) }()

	e1, e2 := <-errCh, <-errCh
	if e1 != "" {
		return e1
	}
	return e2
}

func sendPattern(ctx context.Context, u *uartx.UART, gen func(int) byte, n int) error {
	var buf [sendChunk]byte
	for i := 0; i < n; {
		k := min(sendChunk, n-i)
		for j := 0; j < k; j++ {
			buf[j] = gen(i + j)
		}
		if _, err := u.WriteContext(ctx, buf[:k]); err != nil {
			return err
		}
		i += k
	}
	return nil
}

// recvAndCheckStream reads exactly n bytes and compares each byte against gen(i). On the
// first mismatch it dumps the surrounding expected/actual bytes, then the next
// extraFollowing bytes received.
func recvAndCheckStream(ctx context.Context, u *uartx.UART, gen func(int) byte, n int) string {
	var buf [recvChunk]byte
	received := 0

	for received < n {
		k := min(n-received, len(buf))
		m, err := u.ReadBlocking(ctx, buf[:k])
		if err != nil {
			return fmt.Sprintf("timeout after %d bytes", received)
		}

		for i := 0; i < m; i++ {
			if buf[i] == gen(received+i) {
				continue
			}
			off := received + i
			fmt.Println("First mismatch at offset", off)
			printContext(gen, off, buf[:m], i)

			following := append([]byte(nil), buf[i+1:m]...)
			var tmp [recvChunk]byte
			for len(following) < extraFollowing && off+1+len(following) < n {
				want := min(extraFollowing-len(following), len(tmp))
				mm, err := u.ReadBlocking(ctx, tmp[:want])
				if err != nil {
					break
				}
				following = append(following, tmp[:mm]...)
			}
			printFollowing(off, following)
			return "integrity mismatch"
		}
		received += m
	}
	return ""
}

func printContext(gen func(int) byte, absOffset int, gotChunk []byte, rel int) {
	start := max(absOffset-contextRadius, 0)
	end := absOffset + contextRadius + 1

	exp := make([]byte, end-start)
	act := make([]byte, end-start)
	base := absOffset - rel
	for i := range exp {
		exp[i] = gen(start + i)
		// Bytes outside the chunk read so far stay zero.
		if idx := start + i - base; idx >= 0 && idx < len(gotChunk) {
			act[i] = gotChunk[idx]
		}
	}

	fmt.Println("Context (hex): bytes", start, "to", end-1)
	fmt.Println(" exp:", hexLine(exp, -1))
	fmt.Println(" act:", hexLine(act, absOffset-start))
}

func hexLine(b []byte, pivot int) string {
	var sb strings.Builder
	for i, v := range b {
		if i == pivot {
			fmt.Fprintf(&sb, "[%02X]", v)
		} else {
			fmt.Fprintf(&sb, " %02X ", v)
		}
	}
	return sb.String()
}

func printFollowing(mismatchOffset int, following []byte) {
	fmt.Println("Following bytes actually received after mismatch (next", len(following), "bytes):")
	if len(following) == 0 {
		fmt.Println(" <none>")
		return
	}
	base := mismatchOffset + 1
	for i := 0; i < len(following); i += 16 {
		end := min(i+16, len(following))
		fmt.Printf("  +%d: % X\n", base+i, following[i:end])
	}
}
