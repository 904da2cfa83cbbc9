package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jangala-dev/tinygo-uartcore/config"
	"github.com/jangala-dev/tinygo-uartcore/uartx"
	"github.com/jangala-dev/tinygo-uartcore/uartx/simhw"
)

// simPins are the default TX/RX pins of the three simulated UARTs.
var simPins = [3][2]uartx.Pin{{1, 3}, {10, 9}, {17, 16}}

// simBoard is a registry with one simulated peripheral per standard UART index, each
// clocked by its own goroutine.
type simBoard struct {
	reg    *uartx.Registry
	sims   [3]*simhw.Peripheral
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newSimBoard(sc config.SimConfig) (*simBoard, error) {
	b := &simBoard{reg: uartx.NewRegistry()}
	b.reg.SetLogger(debugLogger())
	for i := range b.sims {
		b.sims[i] = simhw.New(simhw.Config{
			FIFOSize:  sc.FIFOSize,
			DefaultTx: simPins[i][0],
			DefaultRx: simPins[i][1],
		})
		if err := b.reg.Bind(i, b.sims[i]); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	period := time.Duration(sc.TickMicros) * time.Microsecond
	for _, p := range b.sims {
		b.wg.Add(1)
		go func(p *simhw.Peripheral) {
			defer b.wg.Done()
			p.Run(ctx, period, sc.ShiftPerTick)
		}(p)
	}
	return b, nil
}

// open opens port nr using its configured settings, or defaults when it has none.
func (b *simBoard) open(nr int) (*uartx.UART, error) {
	pc, ok := cfg.Port(nr)
	if !ok {
		pc = config.DefaultConfig().Ports[0]
		pc.Port = nr
	}
	uc, err := pc.UARTConfig()
	if err != nil {
		return nil, fmt.Errorf("port %d: %w", nr, err)
	}
	u, err := b.reg.Open(uc)
	if err != nil {
		return nil, fmt.Errorf("port %d: %w", nr, err)
	}
	return u, nil
}

func (b *simBoard) stop() {
	for nr := range b.sims {
		if u := b.reg.Get(nr); u != nil {
			_ = u.Close()
		}
	}
	b.cancel()
	b.wg.Wait()
}

func drain(u *uartx.UART) {
	var tmp [64]byte
	for u.TryRead(tmp[:]) > 0 {
	}
}
