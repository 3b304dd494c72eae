// Command signaged is the digital-signage coordination server.
//
// It accepts display devices and mobile operator apps over framed TCP,
// tracks liveness, dispatches commands, and answers discovery probes
// on the local segment.
//
// Usage:
//
//	signaged [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML)
//	-listen string     TCP listen address (default ":9570")
//	-name string       Server name announced to clients
//	-data-dir string   Directory for the identity database
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-capture string    Protocol capture file path
//	-discovery         Answer UDP discovery probes (default true)
//	-mdns              Advertise over mDNS
//	-interactive       Start the operator console
//
// Examples:
//
//	# Serve with defaults, in-memory identities
//	signaged -name lobby-server
//
//	# Production: config file, persistent identities, mDNS
//	signaged -config /etc/signage/server.yaml
//
//	# Operate interactively (approve apps, send commands)
//	signaged -name lobby-server -interactive
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/manur84/digitalsignage-sub008/pkg/config"
	"github.com/manur84/digitalsignage-sub008/pkg/identity"
	pkglog "github.com/manur84/digitalsignage-sub008/pkg/log"
	"github.com/manur84/digitalsignage-sub008/pkg/service"
	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Configuration file path (YAML)")
		listen      = flag.String("listen", "", "TCP listen address")
		name        = flag.String("name", "", "Server name announced to clients")
		dataDir     = flag.String("data-dir", "", "Directory for the identity database")
		logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		capture     = flag.String("capture", "", "Protocol capture file path")
		discovery   = flag.Bool("discovery", true, "Answer UDP discovery probes")
		mdns        = flag.Bool("mdns", false, "Advertise over mDNS")
		interactive = flag.Bool("interactive", false, "Start the operator console")
	)
	flag.Parse()

	fileCfg := &config.Server{}
	if *configPath != "" {
		loaded, err := config.LoadServer(*configPath)
		if err != nil {
			fatal(err)
		}
		fileCfg = loaded
	}

	// Flags win over the file.
	if *listen != "" {
		fileCfg.Listen = *listen
	}
	if *name != "" {
		fileCfg.Name = *name
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

	logger, cleanup, err := buildLogger(fileCfg.Logging)
	if err != nil {
		fatal(err)
	}
	defer cleanup()

	svcCfg := service.ServerConfig{
		Name:               fileCfg.Name,
		ListenAddress:      fileCfg.Listen,
		HeartbeatTimeout:   fileCfg.HeartbeatTimeout.Std(),
		SweepInterval:      fileCfg.SweepInterval.Std(),
		CommandTimeout:     fileCfg.CommandTimeout.Std(),
		TokenTTL:           fileCfg.TokenTTL.Std(),
		EnableDiscovery:    *discovery || fileCfg.Discovery.Enabled,
		DiscoveryProbePort: fileCfg.Discovery.ProbePort,
		EnableMDNS:         *mdns || fileCfg.Discovery.MDNS,
		AdvertiseURL:       fileCfg.Discovery.AdvertiseURL,
		Logger:             logger,
	}

	if fileCfg.TLS.Enabled() {
		cert, err := tls.LoadX509KeyPair(fileCfg.TLS.CertFile, fileCfg.TLS.KeyFile)
		if err != nil {
			fatal(fmt.Errorf("load TLS certificate: %w", err))
		}
		svcCfg.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	if fileCfg.DataDir != "" {
		store, err := identity.Open(fileCfg.DataDir)
		if err != nil {
			fatal(fmt.Errorf("open identity store: %w", err))
		}
		defer store.Close()
		svcCfg.Store = store
	}

	if len(fileCfg.Layouts) > 0 {
		content := service.NewStaticContentSource()
		for _, l := range fileCfg.Layouts {
			content.AddLayout(wire.LayoutInfo{LayoutID: l.ID, Name: l.Name}, l.Content)
		}
		svcCfg.Content = content
	}

	srv := service.NewServer(svcCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		fatal(err)
	}
	slog.Info("signaged serving", "addr", srv.Addr().String(), "name", fileCfg.Name)

	if *interactive {
		console, err := NewConsole(srv)
		if err != nil {
			srv.Stop()
			fatal(err)
		}
		console.Run(ctx, cancel)
	} else {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			slog.Info("shutting down", "signal", sig.String())
		case <-ctx.Done():
		}
	}

	srv.Stop()
}

// buildLogger assembles the console sink plus an optional capture file.
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
	fmt.Fprintln(os.Stderr, "signaged:", err)
	os.Exit(1)
}
