package uartx

import "io"

// SetConsole routes console output to port nr. An out-of-range index, such as -1,
// turns console output off. The port does not have to be open yet.
func (r *Registry) SetConsole(nr int) {
	if nr < 0 || nr >= PortCount {
		nr = -1
	}
	r.console.Store(int32(nr))
}

// Console returns the console port index, or -1 when console output is off.
func (r *Registry) Console() int { return int(r.console.Load()) }

// ConsolePutc writes one byte to the console port. It is dropped when the console is off,
// the port is closed or its TX side is full.
func (r *Registry) ConsolePutc(c byte) {
	if u := r.consolePort(); u != nil {
		u.TryWrite([]byte{c})
	}
}

// ConsoleWriter returns an io.Writer onto the console port, for log.SetOutput and the
// like. Writes never fail: output that cannot be queued is dropped.
func (r *Registry) ConsoleWriter() io.Writer { return consoleWriter{r} }

type consoleWriter struct{ r *Registry }

func (w consoleWriter) Write(p []byte) (int, error) {
	if u := w.r.consolePort(); u != nil {
		u.TryWrite(p)
	}
	return len(p), nil
}

// consolePort takes the registry lock; it must not be used from lifecycle callbacks.
func (r *Registry) consolePort() *UART {
	nr := r.Console()
	if nr < 0 {
		return nil
	}
	return r.Get(nr)
}
