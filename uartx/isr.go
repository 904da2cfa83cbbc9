package uartx

// handleInterrupt services one interrupt for this port. It runs in interrupt context:
// on hardware at IRQ priority, on host builds under the process-wide interrupt gate.
//
// RX: drain min(FIFO level, ring free space) into the RX ring. RxFifoFull is only passed
// on once the ring's free space has fallen to the headroom. The USB bridge has no FIFO
// threshold, so there the headroom alone decides between RxFifoFull and RxFifoTimeout. An overflow discards what is
// left in the FIFO and masks all RX sources; a pass that moves nothing (ring already full)
// masks RxFifoFull and RxFifoTimeout. Either way the sources stay masked until Read or
// Flush re-arms them, so a stalled consumer cannot cause an interrupt storm.
//
// TX: refill the FIFO from the TX ring. If the FIFO is still empty afterwards there is
// nothing left to send and TxFifoEmpty is masked until the next Write; otherwise the
// TxFifoEmpty bit is withheld from the callback because more data is on its way.
func (u *UART) handleInterrupt() {
	if !u.attached {
		// Late interrupt racing Close.
		return
	}
	d := u.dev

	usis := d.IntStatus()
	if usis == 0 {
		// Nothing for this port on a shared line.
		return
	}

	// Value to be passed to the callback.
	status := usis
	drained := 0

	if u.options&OptCallbackRaw == 0 {
		if usis&rxIntrMask != 0 {
			status, drained = u.serviceRx(usis, status)
		}
		if usis&TxFifoEmpty != 0 {
			status = u.serviceTx(status)
		}
	}
	u.dbgISR(drained)

	// Persistent flags accumulate until Status consumes them.
	u.status |= status

	if status != 0 {
		if cb := u.callback.Load(); cb != nil {
			callbackContext(func() { (*cb)(u, status) })
		}
	}

	d.ClearInterrupts(usis)
}

func (u *UART) serviceRx(usis, status Status) (Status, int) {
	d := u.dev
	read := 0

	if u.rxBuf != nil {
		space := u.rxBuf.Free()
		want := space
		if want > len(u.scratch) {
			want = len(u.scratch)
		}
		read = d.ReadRx(u.scratch[:want])
		u.rxBuf.Write(u.scratch[:read])
		space -= read

		switch {
		case d.Transport() == TransportUSBBridge && usis&(RxFifoFull|RxFifoTimeout) != 0:
			// No hardware full threshold: every packet is reported as full or timeout
			// according to the headroom alone.
			status &^= RxFifoFull | RxFifoTimeout
			if space <= u.rxHeadroom {
				status |= RxFifoFull
			} else {
				status |= RxFifoTimeout
			}
		case space > u.rxHeadroom:
			// Don't call back until the buffer is (almost) full.
			status &^= RxFifoFull
		}
	}

	switch {
	case usis&RxOverflow != 0:
		// The ring had no room for what is left in the FIFO. Those bytes are valid and
		// precede the lost ones, but they are discarded too so that the consumer sees
		// one clean break at the ring boundary rather than a gap inside the stream.
		// RX stays masked until the consumer acts.
		d.ResetRx()
		d.DisableInterrupts(rxIntrMask)
		u.dbgOverflow()
	case read == 0:
		d.DisableInterrupts(RxFifoFull | RxFifoTimeout)
		u.dbgRxStall()
	}

	u.signal(u.notify)
	return status, read
}

func (u *UART) serviceTx(status Status) Status {
	d := u.dev

	if u.txBuf != nil {
		for {
			chunk := u.txBuf.Peek()
			free := txFree(d)
			if len(chunk) == 0 || free == 0 {
				break
			}
			if len(chunk) > free {
				chunk = chunk[:free]
			}
			n := d.WriteTx(chunk)
			u.txBuf.Skip(n)
			if n < len(chunk) {
				break
			}
		}
	}

	if d.TxCount() == 0 {
		// Re-enabled by Write.
		d.DisableInterrupts(TxFifoEmpty)
	} else {
		// FIFO topped up, defer the callback until next time.
		status &^= TxFifoEmpty
	}

	u.signal(u.txNotify)
	return status
}

// signal performs a coalesced, non-blocking wake-up.
func (u *UART) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
		u.dbgNotify(true)
	default:
		u.dbgNotify(false)
	}
}
