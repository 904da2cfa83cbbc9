// Command uartxctl exercises the uartx driver core on a host: self-tests and integrity
// runs against simulated UART hardware, and a USB-serial bridge over a real serial device.
package main

func main() {
	Execute()
}
