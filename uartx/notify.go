package uartx

// SetNotify installs the lifecycle callback for port index nr, or removes it when fn is
// nil. It may be set before the port is opened so that AfterOpen is observed. AfterOpen
// and BeforeClose are delivered while the registry is locked: the callback must not call
// back into the Registry.
func (r *Registry) SetNotify(nr int, fn NotifyFunc) bool {
	if nr < 0 || nr >= PortCount {
		return false
	}
	if fn == nil {
		r.slots[nr].notify.Store(nil)
		return true
	}
	r.slots[nr].notify.Store(&fn)
	return true
}

// notify invokes the lifecycle callback registered for u's index, if any.
func (r *Registry) notify(u *UART, code NotifyCode) {
	if fn := r.slots[u.nr].notify.Load(); fn != nil {
		(*fn)(u, code)
	}
}
