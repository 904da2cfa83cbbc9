package uartx_test

import (
	"testing"

	"github.com/jangala-dev/tinygo-uartcore/uartx"
	"github.com/jangala-dev/tinygo-uartcore/uartx/simhw"
)

type eventLog struct {
	events []uartx.Status
}

func (l *eventLog) callback(_ *uartx.UART, s uartx.Status) { l.events = append(l.events, s) }

func (l *eventLog) count(bit uartx.Status) int {
	n := 0
	for _, s := range l.events {
		if s&bit != 0 {
			n++
		}
	}
	return n
}

// openSim binds a fresh simulated peripheral to cfg.Port on a private registry and opens
// it. The port is closed when the test ends.
func openSim(t *testing.T, sc simhw.Config, cfg uartx.Config) (*uartx.Registry, *simhw.Peripheral, *uartx.UART) {
	t.Helper()
	reg := uartx.NewRegistry()
	sim := simhw.New(sc)
	if err := reg.Bind(cfg.Port, sim); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	u, err := reg.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = u.Close() })
	return reg, sim, u
}

// receive delivers data on the RX line, lets it go idle and services the interrupts
// that result.
func receive(sim *simhw.Peripheral, data []byte) {
	sim.Inject(data)
	sim.Idle()
	sim.Drain(16)
}

// pump shifts the TX FIFO out and services interrupts until the wire carries n bytes
// or nothing moves any more.
func pump(sim *simhw.Peripheral, n int) []byte {
	var out []byte
	for len(out) < n {
		moved := sim.Shift(sim.FIFOSize())
		sim.Drain(16)
		out = append(out, sim.Wire()...)
		if moved == 0 && sim.TxCount() == 0 {
			break
		}
	}
	return out
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*31 + 7)
	}
	return p
}
