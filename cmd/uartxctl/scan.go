package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jangala-dev/tinygo-uartcore/uartx/bridge"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for serial devices that can back the bridge",
	Long: `List the host serial devices. USB devices, the only kind the bridge can use,
are marked with an asterisk. Names matching bridge.exclude_patterns are skipped.

Example:
  uartxctl scan
  uartxctl scan --json`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Bool("json", false, "output in JSON format")
	scanCmd.Flags().BoolP("verbose", "v", false, "show detailed port information")
}

func runScan(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	verbose, _ := cmd.Flags().GetBool("verbose")

	ports, err := bridge.Scan(cfg.Bridge.ExcludePatterns...)
	if err != nil {
		return fmt.Errorf("failed to scan ports: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ports)
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}

	fmt.Printf("Found %d serial port(s):\n\n", len(ports))
	for _, port := range ports {
		mark := " "
		if port.Candidate() {
			mark = "*"
		}
		fmt.Printf(" %s %s\n", mark, port.Name)
		if !verbose {
			continue
		}
		if port.Product != "" {
			fmt.Printf("    Product:      %s\n", port.Product)
		}
		if port.SerialNumber != "" {
			fmt.Printf("    Serial:       %s\n", port.SerialNumber)
		}
		if port.VID != "" && port.PID != "" {
			fmt.Printf("    VID/PID:      %s:%s\n", port.VID, port.PID)
		}
	}
	return nil
}
