//go:build (rp2040 || rp2350) && uartxdebug

// Diagnostic probe for port 1 with TX wired to RX (GP4 to GP5). Build with the
// uartxdebug tag so the driver keeps its counters.
package main

import (
	"context"
	"crypto/sha1"
	"time"

	"machine"

	"github.com/jangala-dev/tinygo-uartcore/uartx"
)

const baud = 115200

func printStats(u *uartx.UART, label string) {
	s := u.DebugStats()
	r := u.DebugRegs()
	println("==", label)
	println("ISR:    count=", s.ISRCount, " bytes=", s.ISRBytes, " maxdrain=", s.ISRMaxDrain)
	println("Notify: sent=", s.NotifySent, " dropped=", s.NotifyDropped)
	println("RX:     overflows=", s.Overflows, " stalls=", s.RxStalls, " maxUsed=", s.RingMaxUsed)
	println("Waits:  waits=", s.ReadWaits, " spurious=", s.SpuriousWakes, " timeouts=", s.Timeouts)
	println("Regs:   raw=", r.IntRaw.String(), " status=", r.IntStatus.String(),
		" rxlen=", r.RxLen, " txcount=", r.TxCount)
	println("Status:", u.Status().String())
}

func drain(u *uartx.UART) {
	var tmp [64]byte
	for u.TryRead(tmp[:]) > 0 {
	}
}

func main() {
	delay := 10
	for i := 0; i < delay; i++ {
		println("test starting in ", delay-i, " seconds")
		time.Sleep(time.Second)
	}
	println("uartx probe (diagnostic)")

	u, err := uartx.Default.Open(uartx.Config{
		Port:     1,
		BaudRate: baud,
		RxSize:   512,
		TxSize:   512,
	})
	if err != nil {
		println("fatal:", err.Error())
		for {
			time.Sleep(time.Hour)
		}
	}
	println("baud requested=", baud, " actual=", u.BaudRate())

	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	u.DebugReset()
	drain(u)

	// Phase 1: 1 KiB integrity
	println("\n[phase] integrity-1k")
	src := make([]byte, 1024)
	var x uint32 = 0x12345678
	for i := range src {
		x = 1664525*x + 1013904223
		src[i] = byte(x >> 24)
	}
	_, _ = u.Write(src)
	got := make([]byte, len(src))
	ctx1, cancel1 := context.WithTimeout(context.Background(), 2*time.Second)
	n, err := u.ReadFullBlocking(ctx1, got)
	cancel1()
	switch {
	case err != nil:
		println(" result: TIMEOUT (received", n, "bytes)")
	case sha1.Sum(got) != sha1.Sum(src):
		println(" result: HASH MISMATCH")
	default:
		println(" result: OK (1 KiB)")
	}
	printStats(u, "after integrity-1k")

	// Phase 2: burst 8 KiB with reads held off, to force an overflow.
	println("\n[phase] burst-8k (reader delayed)")
	u.DebugReset()
	drain(u)
	burst := make([]byte, 8*1024)
	for i := range burst {
		burst[i] = byte(i)
	}
	go func() { _, _ = u.Write(burst) }()
	time.Sleep(50 * time.Millisecond)
	got2 := make([]byte, len(burst))
	ctx2, cancel2 := context.WithTimeout(context.Background(), 3*time.Second)
	n2, err2 := u.ReadFullBlocking(ctx2, got2)
	cancel2()
	if err2 != nil {
		println(" result: TIMEOUT (received", n2, "bytes)")
	} else {
		println(" result: received all", n2, "bytes")
	}
	printStats(u, "after burst-8k")

	// Phase 3: notify sanity (two bytes)
	println("\n[phase] notify-2bytes")
	u.Flush(uartx.ModeFull)
	u.DebugReset()
	go func() {
		_ = u.WriteByte('A')
		time.Sleep(5 * time.Millisecond)
		_ = u.WriteByte('B')
	}()
	select {
	case <-u.Readable():
		ctx3, cancel3 := context.WithTimeout(context.Background(), 200*time.Millisecond)
		got3 := make([]byte, 2)
		n3, _ := u.ReadFullBlocking(ctx3, got3)
		cancel3()
		println(" result: got '", string(got3[:n3]), "'")
	case <-time.After(300 * time.Millisecond):
		println(" result: no notification within 300ms")
	}
	printStats(u, "after notify-2bytes")

	println("\ndone")
}
