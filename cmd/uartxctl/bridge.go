package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jangala-dev/tinygo-uartcore/uartx"
	"github.com/jangala-dev/tinygo-uartcore/uartx/bridge"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge [device]",
	Short: "Run port 3 over a USB serial device",
	Long: `Open a host serial device as the USB-serial bridge behind port 3.

Without --echo, received bytes are copied to stdout and stdin is sent to the
device. With --echo, everything received is written straight back.

The device is taken from the argument, then the bridge.device setting, then the
first USB serial device found.

Example:
  uartxctl bridge /dev/ttyACM0
  uartxctl bridge --echo`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().Bool("echo", false, "echo received data back to the device")
	bridgeCmd.Flags().Int("baud", 0, "line rate passed to the device (default from config)")
}

func runBridge(cmd *cobra.Command, args []string) error {
	echo, _ := cmd.Flags().GetBool("echo")
	baud, _ := cmd.Flags().GetInt("baud")
	if baud == 0 {
		baud = cfg.Bridge.BaudRate
	}

	path, err := bridgeDevice(args)
	if err != nil {
		return err
	}

	b, err := bridge.Open(path, baud)
	if err != nil {
		return err
	}
	defer b.Close()
	b.SetLogger(logger)

	reg := uartx.NewRegistry()
	reg.SetLogger(debugLogger())
	if err := reg.Bind(uartx.PortUSBBridge, b); err != nil {
		return err
	}

	pc, ok := cfg.Port(uartx.PortUSBBridge)
	if !ok {
		pc.Port, pc.RxSize, pc.TxSize = uartx.PortUSBBridge, 1024, 1024
	}
	uc, err := pc.UARTConfig()
	if err != nil {
		return err
	}
	uc.TxPin, uc.RxPin = uartx.PinNone, uartx.PinNone
	u, err := reg.Open(uc)
	if err != nil {
		return fmt.Errorf("failed to open bridge port: %w", err)
	}
	defer u.Close()

	logger.Printf("bridge %s on %s at %d baud", b.ID, path, baud)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if echo {
		err = echoLoop(ctx, u)
	} else {
		go func() {
			if _, err := io.Copy(u, os.Stdin); err != nil {
				warnf("stdin: %v", err)
			}
		}()
		err = copyOut(ctx, u, os.Stdout)
	}
	if lerr := b.Err(); lerr != nil {
		return fmt.Errorf("link failed: %w", lerr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, uartx.ErrNotOpen) {
		return nil
	}
	return err
}

func bridgeDevice(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if cfg.Bridge.Device != "" {
		return cfg.Bridge.Device, nil
	}
	ports, err := bridge.Scan(cfg.Bridge.ExcludePatterns...)
	if err != nil {
		return "", fmt.Errorf("failed to scan ports: %w", err)
	}
	for _, p := range ports {
		if p.Candidate() {
			return p.Name, nil
		}
	}
	return "", errors.New("no USB serial device found")
}

func echoLoop(ctx context.Context, u *uartx.UART) error {
	buf := make([]byte, bridge.PacketSize)
	for {
		n, err := u.ReadBlocking(ctx, buf)
		if err != nil {
			return err
		}
		if _, err := u.WriteContext(ctx, buf[:n]); err != nil {
			return err
		}
	}
}

func copyOut(ctx context.Context, u *uartx.UART, w io.Writer) error {
	buf := make([]byte, 256)
	for {
		n, err := u.ReadBlocking(ctx, buf)
		if err != nil {
			return err
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		if s := u.Status(); s&uartx.RxOverflow != 0 {
			warnf("bridge: receive overflow, data lost")
		}
	}
}
