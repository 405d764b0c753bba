// Command microbit-uart scans for a micro:bit running the Bluetooth UART
// service, connects to it, and exchanges text commands from the terminal.
//
// Usage:
//
//	microbit-uart [--config path] [--simulate] [--init-config]
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chaz8081/microbit-uart/internal/ble"
	"github.com/chaz8081/microbit-uart/internal/ble/protocol"
	"github.com/chaz8081/microbit-uart/internal/ble/sim"
	"github.com/chaz8081/microbit-uart/internal/config"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/microbit-uart/config.yaml)")
	simulate := flag.Bool("simulate", false, "use simulated micro:bit peripherals instead of the Bluetooth radio")
	initConfig := flag.Bool("init-config", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
		} else {
			fmt.Println("Wrote", path)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg, *simulate)

	adapter, closeAdapter := newAdapter(cfg, *simulate)
	defer closeAdapter()

	coord := ble.NewCoordinator(cfg.CoordinatorOptions())
	if err := coord.Initialize(adapter); err != nil {
		log.Fatalf("Failed to initialize Bluetooth: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("event loop stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := readLines(os.Stdin)
	sh := &shell{coord: coord, commands: cfg.Commands, out: os.Stdout}
	sh.help()

	// Main event loop
	updates := coord.Updates()
	for {
		select {
		case u := <-updates:
			sh.show(u)

		case line, ok := <-lines:
			if !ok {
				sh.quit()
				return
			}
			if !sh.exec(line) {
				sh.quit()
				return
			}

		case sig := <-sigCh:
			log.Printf("Received %s, shutting down...", sig)
			sh.quit()
			return
		}
	}
}

// newAdapter returns the radio adapter, or a simulated one.
func newAdapter(cfg *config.Config, simulate bool) (ble.Adapter, func()) {
	if simulate {
		a := sim.New(sim.Options{Profile: cfg.Profile()},
			sim.Microbit("sim-0001", "zavet"),
			sim.Microbit("sim-0002", "gupig"),
			sim.Peripheral{ID: "sim-0003", Name: "Heart Rate Strap", RSSI: -80, WithoutUART: true},
			sim.Peripheral{ID: "sim-0004", RSSI: -90}, // unnamed; never listed
		)
		return a, a.Close
	}
	a := ble.NewTinyGoAdapter()
	return a, a.Close
}

// readLines reads r line by line. The channel closes at EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// shell maps typed lines onto Coordinator operations.
type shell struct {
	coord    *ble.Coordinator
	commands []string
	out      io.Writer
}

func (s *shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *shell) help() {
	s.printf("Commands:\n")
	s.printf("  scan          start or stop scanning\n")
	s.printf("  list          show discovered devices\n")
	s.printf("  connect N     connect to device N from the list\n")
	s.printf("  %-13s send a command letter\n", strings.Join(s.commands, ", "))
	s.printf("  send TEXT     send a line of text\n")
	s.printf("  state         show adapter and session state\n")
	s.printf("  disconnect    close the session\n")
	s.printf("  back          disconnect and clear the device list\n")
	s.printf("  quit          exit\n")
}

// exec runs one typed line. It returns false when the user quits.
func (s *shell) exec(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch strings.ToLower(cmd) {
	case "help", "?":
		s.help()
	case "quit", "exit":
		return false
	case "scan":
		err = s.coord.ToggleScan()
	case "list":
		s.list(s.coord.Devices())
	case "connect":
		err = s.connect(arg)
	case "send":
		if arg == "" {
			err = errors.New("send needs some text")
			break
		}
		err = s.coord.SendText(arg)
	case "state":
		s.state()
	case "disconnect":
		err = s.coord.Disconnect()
	case "back":
		err = s.coord.Reset()
	default:
		err = s.command(line)
	}
	if err != nil {
		s.alert(err)
	}
	return true
}

func (s *shell) connect(arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("connect needs a device number, got %q", arg)
	}
	dev, err := s.coord.Select(n - 1)
	if err != nil {
		return err
	}
	s.printf("Connecting to %s...\n", dev.Name)
	return nil
}

// command sends one of the configured command letters.
func (s *shell) command(line string) error {
	letter, err := protocol.ParseCommand(line)
	if err != nil || !s.allowed(letter) {
		return fmt.Errorf("unknown command %q (type help)", line)
	}
	return s.coord.SendCommand(letter)
}

func (s *shell) allowed(letter byte) bool {
	for _, c := range s.commands {
		if len(c) == 1 && c[0] == letter {
			return true
		}
	}
	return false
}

// alert reports a user-facing error.
func (s *shell) alert(err error) {
	switch {
	case errors.Is(err, ble.ErrAdapterNotReady):
		s.printf("Error: Bluetooth is not powered on\n")
	case errors.Is(err, ble.ErrNotReady):
		s.printf("Error: not connected to a micro:bit yet\n")
	default:
		s.printf("Error: %v\n", err)
	}
}

func (s *shell) list(devs []ble.Device) {
	if len(devs) == 0 {
		s.printf("No devices found\n")
		return
	}
	for i, d := range devs {
		s.printf("  %2d. %-28s %4d dBm  %s\n", i+1, d.Name, d.RSSI, d.ID)
	}
}

func (s *shell) state() {
	s.printf("Bluetooth: %s", s.coord.PowerState())
	if s.coord.Scanning() {
		s.printf(" (scanning)")
	}
	s.printf("\n")
	if dev, st, ok := s.coord.Session(); ok {
		s.printf("Session:   %s (%s)\n", dev.Name, st)
	} else {
		s.printf("Session:   none\n")
	}
}

// show prints an update from the coordinator.
func (s *shell) show(u ble.Update) {
	switch u.Type {
	case ble.UpdatePower:
		s.printf("Bluetooth is %s\n", u.State)
	case ble.UpdateScanning:
		if u.Scanning {
			s.printf("Scanning...\n")
		} else {
			s.printf("Scan stopped\n")
		}
	case ble.UpdateDevices:
		s.list(u.Devices)
	case ble.UpdateConnected:
		s.printf("Connected to %s, discovering services...\n", u.Device.Name)
	case ble.UpdateReady:
		s.printf("Ready. Type %s to send a command.\n", strings.Join(s.commands, " or "))
	case ble.UpdateDisconnected:
		if u.Err != nil {
			s.printf("Disconnected from %s: %v\n", u.Device.ID, u.Err)
		} else {
			s.printf("Disconnected from %s\n", u.Device.ID)
		}
	case ble.UpdateText:
		slog.Debug("notification", "text", u.Text)
	case ble.UpdateLine:
		s.printf("< %s\n", u.Text)
	}
}

func (s *shell) quit() {
	if _, _, ok := s.coord.Session(); ok {
		if err := s.coord.Disconnect(); err != nil {
			slog.Warn("disconnect on exit", "error", err)
		}
	}
	s.printf("Goodbye!\n")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, simulate bool) {
	radio := "bluetooth"
	if simulate {
		radio = "simulated"
	}
	fmt.Println("=== microbit-uart ===")
	fmt.Printf("  Radio:    %s\n", radio)
	fmt.Printf("  Service:  %s\n", cfg.BLE.ServiceUUID)
	fmt.Printf("  Notify:   %s\n", cfg.BLE.NotifyCharUUID)
	fmt.Printf("  Write:    %s\n", cfg.BLE.WriteCharUUID)
	fmt.Printf("  Commands: %s\n", strings.Join(cfg.Commands, ", "))
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("=====================")
}
