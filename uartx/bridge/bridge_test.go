package bridge

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/jangala-dev/tinygo-uartcore/uartx"
)

// fakeLink is an in-memory serial link. Bytes queued with feed are returned by Read;
// Write appends to out.
type fakeLink struct {
	in      chan []byte
	timeout time.Duration

	mu      sync.Mutex
	pending []byte
	out     []byte
	mode    *serial.Mode
	closed  bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{in: make(chan []byte, 16), timeout: time.Second}
}

func (f *fakeLink) feed(p []byte) { f.in <- append([]byte(nil), p...) }

func (f *fakeLink) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		select {
		case b := <-f.in:
			f.mu.Lock()
			f.pending = b
		case <-time.After(f.timeout):
			return 0, nil
		}
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	f.mu.Unlock()
	return n, nil
}

func (f *fakeLink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errors.New("closed")
	}
	f.out = append(f.out, p...)
	return len(p), nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) SetReadTimeout(t time.Duration) error {
	f.timeout = t
	return nil
}

func (f *fakeLink) SetMode(m *serial.Mode) error {
	f.mu.Lock()
	f.mode = m
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.out...)
}

func openBridge(t *testing.T, cfg uartx.Config) (*fakeLink, *Bridge, *uartx.UART) {
	t.Helper()
	link := newFakeLink()
	b := New(link)
	reg := uartx.NewRegistry()
	if err := reg.Bind(uartx.PortUSBBridge, b); err != nil {
		t.Fatal(err)
	}
	cfg.Port = uartx.PortUSBBridge
	u, err := reg.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		u.Close()
		b.Close()
	})
	return link, b, u
}

func TestBridge_ReceivesPackets(t *testing.T) {
	link, _, u := openBridge(t, uartx.Config{RxSize: 256})

	want := make([]byte, 150) // spans three packets
	for i := range want {
		want[i] = byte(i)
	}
	link.feed(want)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got := make([]byte, len(want))
	if n, err := u.ReadFullBlocking(ctx, got); err != nil {
		t.Fatalf("ReadFullBlocking n=%d err=%v", n, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("received (-want +got):\n%s", diff)
	}
}

func TestBridge_HeadroomSelectsRxEvent(t *testing.T) {
	link, _, u := openBridge(t, uartx.Config{RxSize: 64})

	var mu sync.Mutex
	var rxEvents []uartx.Status
	u.SetCallback(func(_ *uartx.UART, s uartx.Status) {
		if s&(uartx.RxFifoFull|uartx.RxFifoTimeout) == 0 {
			return
		}
		mu.Lock()
		rxEvents = append(rxEvents, s&(uartx.RxFifoFull|uartx.RxFifoTimeout))
		mu.Unlock()
	})

	// Free space after each packet: 54, 44, 34, 24, 14 against a headroom of 24.
	for i := 1; i <= 5; i++ {
		link.feed(make([]byte, 10))
		deadline := time.Now().Add(2 * time.Second)
		for u.Buffered() < 10*i && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if u.Buffered() != 10*i {
			t.Fatalf("packet %d: buffered %d", i, u.Buffered())
		}
	}

	want := []uartx.Status{
		uartx.RxFifoTimeout,
		uartx.RxFifoTimeout,
		uartx.RxFifoTimeout,
		uartx.RxFifoFull,
		uartx.RxFifoFull,
	}
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		got := append([]uartx.Status(nil), rxEvents...)
		mu.Unlock()
		if len(got) >= len(want) || time.Now().After(deadline) {
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("rx events (-want +got):\n%s", diff)
			}
			break
		}
		time.Sleep(time.Millisecond)
	}
}

func TestBridge_Transmits(t *testing.T) {
	link, _, u := openBridge(t, uartx.Config{TxSize: 128})

	want := []byte("the quick brown fox jumps over the lazy dog, twice: the quick brown fox jumps over the lazy dog")
	if n, err := u.Write(want); err != nil || n != len(want) {
		t.Fatalf("Write n=%d err=%v", n, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(link.written()) < len(want) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if diff := cmp.Diff(want, link.written()); diff != "" {
		t.Fatalf("link (-want +got):\n%s", diff)
	}
}

func TestBridge_TransportLimits(t *testing.T) {
	link, b, u := openBridge(t, uartx.Config{BaudRate: 57600, TxPin: uartx.PinDefault, RxPin: uartx.PinDefault})

	if u.Transport() != uartx.TransportUSBBridge {
		t.Fatalf("transport %v", u.Transport())
	}
	if u.BaudRate() != 57600 {
		t.Fatalf("BaudRate %d", u.BaudRate())
	}
	link.mu.Lock()
	mode := link.mode
	link.mu.Unlock()
	if mode == nil || mode.BaudRate != 57600 || mode.DataBits != 8 {
		t.Fatalf("link mode %+v", mode)
	}
	if tx, rx := u.Pins(); tx != uartx.PinNone || rx != uartx.PinNone {
		t.Fatalf("pins %d/%d", tx, rx)
	}
	if err := u.SetPins(4, 5); !errors.Is(err, uartx.ErrInvalidPin) {
		t.Fatalf("SetPins err=%v", err)
	}
	if u.ConfigureInterrupts(uartx.IntrConfig{Mask: uartx.TxDone, Enable: uartx.TxDone}) {
		t.Fatal("ConfigureInterrupts accepted on a bridge")
	}
	if b.ID == "" {
		t.Fatal("no session id")
	}
}

func TestBridge_DisableStopsPumps(t *testing.T) {
	link := newFakeLink()
	b := New(link)
	b.Enable()
	done := make(chan struct{})
	go func() {
		b.Disable()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Disable did not return")
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if b.Err() != nil {
		t.Fatalf("Err %v", b.Err())
	}
}

func TestFilterPorts(t *testing.T) {
	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "303a", PID: "1001"},
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyACM0", IsUSB: true, Product: "USB JTAG/serial debug unit"},
	}
	got := filterPorts(ports, []*regexp.Regexp{regexp.MustCompile(`ttyS\d+`)})
	want := []PortInfo{
		{Name: "/dev/ttyACM0", IsUSB: true, Product: "USB JTAG/serial debug unit"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "303a", PID: "1001"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ports (-want +got):\n%s", diff)
	}
}
