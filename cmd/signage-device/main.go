// Command signage-device is the display-device agent.
//
// It finds the signage server (UDP broadcast plus mDNS, or a static
// address), registers with the device's hardware identity, keeps the
// session alive with heartbeats, and executes server commands. On
// link loss it rediscovers and reconnects with exponential backoff.
//
// Usage:
//
//	signage-device [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-hardware-id string  Stable hardware identity (default: primary MAC)
//	-name string       Human-readable device name
//	-server string     Static server host:port (skips discovery)
//	-server-name string  Restrict discovery to one server
//	-data-dir string   Directory for the last-known-server file
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-capture string    Protocol capture file path
//	-simulate          Log simulated playback activity
//
// Examples:
//
//	# Discover and join any server on the segment
//	signage-device -name "Lobby Display"
//
//	# Pin a server and persist the endpoint
//	signage-device -server 192.168.1.10:9570 -data-dir /var/lib/signage
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manur84/digitalsignage-sub008/pkg/agent"
	"github.com/manur84/digitalsignage-sub008/pkg/config"
	"github.com/manur84/digitalsignage-sub008/pkg/connection"
	"github.com/manur84/digitalsignage-sub008/pkg/discovery"
	pkglog "github.com/manur84/digitalsignage-sub008/pkg/log"
	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path (YAML)")
		hardwareID = flag.String("hardware-id", "", "Stable hardware identity")
		name       = flag.String("name", "", "Human-readable device name")
		server     = flag.String("server", "", "Static server host:port")
		serverName = flag.String("server-name", "", "Restrict discovery to one server")
		dataDir    = flag.String("data-dir", "", "Directory for the last-known-server file")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		capture    = flag.String("capture", "", "Protocol capture file path")
		simulate   = flag.Bool("simulate", false, "Log simulated playback activity")
	)
	flag.Parse()

	fileCfg := &config.Device{}
	if *configPath != "" {
		loaded, err := config.LoadDevice(*configPath)
		if err != nil {
			fatal(err)
		}
		fileCfg = loaded
	}
	if *hardwareID != "" {
		fileCfg.HardwareID = *hardwareID
	}
	if *name != "" {
		fileCfg.Name = *name
	}
	if *server != "" {
		fileCfg.ServerAddress = *server
	}
	if *serverName != "" {
		fileCfg.ServerName = *serverName
	}
	if *dataDir != "" {
		fileCfg.DataDir = *dataDir
	}
	if fileCfg.Logging.Level == "" {
		fileCfg.Logging.Level = *logLevel
	}
	if *capture != "" {
		fileCfg.Logging.CaptureFile = *capture
	}
	if fileCfg.HardwareID == "" {
		fileCfg.HardwareID = primaryMAC()
	}
	if fileCfg.HardwareID == "" {
		fatal(fmt.Errorf("no hardware id: pass -hardware-id or set hardware_id"))
	}
	if fileCfg.Name == "" {
		hostname, _ := os.Hostname()
		fileCfg.Name = hostname
	}

	logger, cleanup, err := buildLogger(fileCfg.Logging)
	if err != nil {
		fatal(err)
	}
	defer cleanup()

	a, err := agent.New(agent.Config{
		HardwareID:        fileCfg.HardwareID,
		Name:              fileCfg.Name,
		Model:             fileCfg.Model,
		Firmware:          fileCfg.Firmware,
		ServerName:        fileCfg.ServerName,
		ServerAddress:     fileCfg.ServerAddress,
		HeartbeatInterval: fileCfg.HeartbeatInterval.Std(),
		DataDir:           fileCfg.DataDir,
		Discovery: discovery.ClientConfig{
			ProbePort:   fileCfg.Discovery.ProbePort,
			Rounds:      fileCfg.Discovery.Rounds,
			RoundDelay:  fileCfg.Discovery.RoundDelay.Std(),
			ScanWindow:  fileCfg.Discovery.ScanWindow.Std(),
			DisableMDNS: fileCfg.Discovery.DisableMDNS,
			Logger:      logger,
		},
		Logger:    logger,
		OnCommand: runCommand,
		OnConfigUpdate: func(settings map[string]any) error {
			slog.Info("config update applied", "keys", len(settings))
			return nil
		},
		OnLayoutAssigned: func(layoutID, layoutName string) {
			slog.Info("layout assigned", "layout", layoutID, "name", layoutName)
		},
		OnDisplayUpdate: func(layoutID string, content map[string]any) {
			slog.Info("display update", "layout", layoutID, "fields", len(content))
		},
		OnDataUpdate: func(sourceID string, values map[string]any) {
			slog.Info("data update", "source", sourceID, "values", len(values))
		},
		OnLinkStateChange: func(from, to connection.State) {
			slog.Info("link state", "from", from.String(), "to", to.String())
		},
	})
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first dial retries here; once Start succeeds the agent
	// maintains the link itself.
	backoff := connection.NewBackoff()
	for {
		err := a.Start(ctx)
		if err == nil {
			break
		}
		delay := backoff.Next()
		slog.Warn("server unreachable, retrying", "error", err, "delay", delay.String())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
	slog.Info("registered", "clientId", a.ClientID(), "hardwareId", fileCfg.HardwareID)

	if *simulate {
		go runSimulation(ctx, a)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	a.Stop()
}

// runCommand executes the device-side commands the fleet protocol
// defines. A real player would drive its renderer here.
func runCommand(command string, params map[string]any) (any, error) {
	slog.Info("command", "name", command, "params", params)
	switch command {
	case "ping":
		return "pong", nil
	case "reload":
		return "reloaded", nil
	case "set_brightness":
		return params["level"], nil
	default:
		return nil, fmt.Errorf("unsupported command %q", command)
	}
}

// primaryMAC returns the MAC address of the first non-loopback
// interface, the conventional hardware identity for a display device.
func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

func runSimulation(ctx context.Context, a *agent.Agent) {
	slog.Info("simulation mode enabled")

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			if err := a.SendLog("info", fmt.Sprintf("played loop %d", n)); err != nil {
				continue
			}
			if n%8 == 0 {
				_ = a.SendStatus(wire.StatusWarning, "simulated low storage")
			}
		}
	}
}

func buildLogger(cfg config.Logging) (pkglog.Logger, func(), error) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	console := pkglog.NewSlogAdapter(slog.Default())
	if cfg.CaptureFile == "" {
		return console, func() {}, nil
	}
	fl, err := pkglog.NewFileLogger(cfg.CaptureFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open capture file: %w", err)
	}
	return pkglog.NewMultiLogger(console, fl), func() { fl.Close() }, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "signage-device:", err)
	os.Exit(1)
}
