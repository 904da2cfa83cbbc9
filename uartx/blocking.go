package uartx

import (
	"context"
	"time"
)

// Readable exposes a coalesced readiness signal suitable for select. A receive means the
// ISR moved data or flagged a condition; re-check with TryRead.
func (u *UART) Readable() <-chan struct{} { return u.notify }

// Writable exposes a coalesced TX progress signal suitable for select.
func (u *UART) Writable() <-chan struct{} { return u.txNotify }

// Done is closed when the port is closed.
func (u *UART) Done() <-chan struct{} { return u.closed }

// WaitReadable blocks until data is available, the port is closed (ErrNotOpen) or ctx is
// done.
func (u *UART) WaitReadable(ctx context.Context) error {
	for {
		if !u.rxEnabled() {
			return ErrNotOpen
		}
		if u.RxAvailable() > 0 {
			return nil
		}
		u.dbgReadWait()
		select {
		case <-u.notify:
			// re-check; if empty, it was a spurious wake (coalesced notify)
			if u.RxAvailable() == 0 {
				u.dbgSpuriousWake()
			}
		case <-u.closed:
			return ErrNotOpen
		case <-ctx.Done():
			u.dbgTimeout()
			return ctx.Err()
		}
	}
}

// ReadBlocking blocks until at least one byte is available, then reads up to len(p).
func (u *UART) ReadBlocking(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if n := u.TryRead(p); n > 0 {
			return n, nil
		}
		if err := u.WaitReadable(ctx); err != nil {
			return 0, err
		}
	}
}

// ReadFullBlocking fills p completely unless ctx ends or the port closes first, in which
// case it returns the partial count with the error.
func (u *UART) ReadFullBlocking(ctx context.Context, p []byte) (int, error) {
	read := 0
	for read < len(p) {
		if n := u.TryRead(p[read:]); n > 0 {
			read += n
			continue
		}
		if err := u.WaitReadable(ctx); err != nil {
			return read, err
		}
	}
	return read, nil
}

// ReadByteBlocking blocks for a single byte or until ctx is done.
func (u *UART) ReadByteBlocking(ctx context.Context) (byte, error) {
	for {
		if b, err := u.ReadByte(); err == nil {
			return b, nil
		}
		if err := u.WaitReadable(ctx); err != nil {
			return 0, err
		}
	}
}

// ReadWithTimeout is ReadBlocking bounded by d.
func (u *UART) ReadWithTimeout(p []byte, d time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return u.ReadBlocking(ctx, p)
}

// WaitWritable blocks until TryWrite could accept at least one byte.
func (u *UART) WaitWritable(ctx context.Context) error {
	for {
		if !u.txEnabled() {
			return ErrNotOpen
		}
		if u.TxFree() > 0 {
			return nil
		}
		select {
		case <-u.txNotify: // progress likely occurred; re-check
		case <-u.closed:
			return ErrNotOpen
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WriteContext queues all of p, waiting on TX progress whenever FIFO and ring are full.
// It returns the count queued so far with ctx's error, or ErrNotOpen if the port closes.
func (u *UART) WriteContext(ctx context.Context, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		if !u.txEnabled() {
			return written, ErrNotOpen
		}
		if n := u.TryWrite(p[written:]); n > 0 {
			written += n
			continue
		}
		if err := u.WaitWritable(ctx); err != nil {
			return written, err
		}
	}
	return written, nil
}

// Write implements io.Writer. Unlike TryWrite it does not return early: it waits for room
// until all of p is queued or the port is closed.
func (u *UART) Write(p []byte) (int, error) {
	return u.WriteContext(context.Background(), p)
}

// WriteByte writes a single byte, waiting for room if necessary.
func (u *UART) WriteByte(c byte) error {
	_, err := u.Write([]byte{c})
	return err
}

// Writev queues several buffers back to back.
func (u *UART) Writev(ctx context.Context, bufs ...[]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := u.WriteContext(ctx, b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
