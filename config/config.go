// Package config loads the uartxctl configuration: the ports to open, the simulated
// peripheral used for host runs, and the USB-serial bridge device.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jangala-dev/tinygo-uartcore/uartx"
)

// Config represents the complete tool configuration
type Config struct {
	Ports   []PortConfig  `yaml:"ports"`
	Sim     SimConfig     `yaml:"sim"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Logging LoggingConfig `yaml:"logging"`
}

// PortConfig describes one port to open.
type PortConfig struct {
	Port       int    `yaml:"port"`
	Mode       string `yaml:"mode"`
	BaudRate   uint32 `yaml:"baud_rate"`
	Format     string `yaml:"format"`
	RxSize     int    `yaml:"rx_size"`
	TxSize     int    `yaml:"tx_size"`
	TxPin      int    `yaml:"tx_pin"`
	RxPin      int    `yaml:"rx_pin"`
	RxHeadroom int    `yaml:"rx_headroom"`
	RawMode    bool   `yaml:"raw_mode"`
	TxWait     bool   `yaml:"tx_wait"`
}

// SimConfig holds the simulated peripheral settings
type SimConfig struct {
	FIFOSize     int `yaml:"fifo_size"`
	TickMicros   int `yaml:"tick_us"`
	ShiftPerTick int `yaml:"shift_per_tick"`
}

// BridgeConfig holds the USB-serial bridge settings
type BridgeConfig struct {
	Device          string   `yaml:"device"`
	BaudRate        int      `yaml:"baud_rate"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Ports: []PortConfig{
			{
				Port:     0,
				Mode:     "full",
				BaudRate: 115200,
				Format:   "8N1",
				RxSize:   256,
				TxSize:   256,
				TxPin:    int(uartx.PinDefault),
				RxPin:    int(uartx.PinDefault),
			},
		},
		Sim: SimConfig{
			FIFOSize:     128,
			TickMicros:   1000,
			ShiftPerTick: 16,
		},
		Bridge: BridgeConfig{
			BaudRate:        115200,
			ExcludePatterns: []string{`^/dev/ttyS\d+$`},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads configuration from file, or returns default if file doesn't exist
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, cfg.Validate()
	}
	return Load(path)
}

// Save writes configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	seen := make(map[int]bool)
	for i, p := range c.Ports {
		if _, err := p.UARTConfig(); err != nil {
			return fmt.Errorf("ports[%d]: %w", i, err)
		}
		if seen[p.Port] {
			return fmt.Errorf("ports[%d]: port %d listed twice", i, p.Port)
		}
		seen[p.Port] = true
	}

	if c.Sim.FIFOSize < 2 {
		return fmt.Errorf("sim fifo_size must be at least 2")
	}
	if c.Sim.TickMicros < 1 || c.Sim.ShiftPerTick < 1 {
		return fmt.Errorf("sim tick_us and shift_per_tick must be positive")
	}

	if c.Bridge.BaudRate < 1 {
		return fmt.Errorf("bridge baud_rate must be positive")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// Port returns the settings for port index nr, if configured.
func (c *Config) Port(nr int) (PortConfig, bool) {
	for _, p := range c.Ports {
		if p.Port == nr {
			return p, true
		}
	}
	return PortConfig{}, false
}

// UARTConfig converts the YAML form into the driver's Config.
func (p PortConfig) UARTConfig() (uartx.Config, error) {
	cfg := uartx.Config{
		Port:       p.Port,
		BaudRate:   p.BaudRate,
		RxSize:     p.RxSize,
		TxSize:     p.TxSize,
		TxPin:      uartx.Pin(p.TxPin),
		RxPin:      uartx.Pin(p.RxPin),
		RxHeadroom: p.RxHeadroom,
	}
	if p.Port < 0 || p.Port >= uartx.PortCount {
		return cfg, fmt.Errorf("%w: %d", uartx.ErrInvalidPort, p.Port)
	}
	if p.RxSize < 0 || p.TxSize < 0 {
		return cfg, fmt.Errorf("buffer sizes must not be negative")
	}

	switch strings.ToLower(p.Mode) {
	case "", "full":
		cfg.Mode = uartx.ModeFull
	case "rx-only", "rx":
		cfg.Mode = uartx.ModeRxOnly
	case "tx-only", "tx":
		cfg.Mode = uartx.ModeTxOnly
	default:
		return cfg, fmt.Errorf("%w: %s", uartx.ErrInvalidMode, p.Mode)
	}

	if p.Format != "" {
		f, err := ParseFormat(p.Format)
		if err != nil {
			return cfg, err
		}
		cfg.Format = f
	}

	if p.RawMode {
		cfg.Options |= uartx.OptCallbackRaw
	}
	if p.TxWait {
		cfg.Options |= uartx.OptTxWait
	}
	return cfg, nil
}

// ParseFormat parses the conventional "8N1" notation: data bits, parity (N, E or O) and
// stop bits (1, 1.5 or 2).
func ParseFormat(s string) (uartx.Format, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 3 {
		return uartx.Format{}, fmt.Errorf("%w: %q", uartx.ErrInvalidFormat, s)
	}
	bits, err := strconv.Atoi(s[:1])
	if err != nil {
		return uartx.Format{}, fmt.Errorf("%w: %q", uartx.ErrInvalidFormat, s)
	}
	f := uartx.Format{DataBits: uint8(bits)}

	switch s[1] {
	case 'N':
		f.Parity = uartx.ParityNone
	case 'E':
		f.Parity = uartx.ParityEven
	case 'O':
		f.Parity = uartx.ParityOdd
	default:
		return uartx.Format{}, fmt.Errorf("%w: parity %q", uartx.ErrInvalidFormat, s[1])
	}

	switch s[2:] {
	case "1":
		f.StopBits = uartx.StopBits1
	case "1.5":
		f.StopBits = uartx.StopBits1Half
	case "2":
		f.StopBits = uartx.StopBits2
	default:
		return uartx.Format{}, fmt.Errorf("%w: stop bits %q", uartx.ErrInvalidFormat, s[2:])
	}

	return f, f.Validate()
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("UARTX_BRIDGE_DEVICE"); v != "" {
		c.Bridge.Device = v
	}
	if v := os.Getenv("UARTX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("UARTX_SIM_FIFO_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sim.FIFOSize = n
		}
	}
}

// DefaultConfigPath returns the default configuration file path for the current user
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "uartx.yaml"
	}
	return filepath.Join(dir, "uartx", "uartx.yaml")
}
