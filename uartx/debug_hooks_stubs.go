//go:build !uartxdebug

package uartx

func (u *UART) dbgISR(int)       {}
func (u *UART) dbgOverflow()     {}
func (u *UART) dbgRxStall()      {}
func (u *UART) dbgNotify(bool)   {}
func (u *UART) dbgReadWait()     {}
func (u *UART) dbgSpuriousWake() {}
func (u *UART) dbgTimeout()      {}
