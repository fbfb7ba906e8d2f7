package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"i4.energy/across/hm10bridge/at"
	"i4.energy/across/hm10bridge/hm10"
	"i4.energy/across/hm10bridge/profile"
)

func main() {
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port the HM-10 module is attached to")
	flag.Int("baud-rate", 9600, "Baud rate the module is configured for")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("profile", "", "YAML module profile applied on start (optional)")
	flag.Duration("idle-gap", hm10.DefaultIdleGap, "Line silence that ends a frame from the module")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	baud := at.ParseBaudrate(config.BaudRate)
	if !baud.Valid() {
		logger.Error("Unsupported baud rate", "baud_rate", config.BaudRate)
		os.Exit(1)
	}

	var moduleProfile *profile.Profile
	if config.Profile != "" {
		moduleProfile, err = profile.Load(config.Profile)
		if err != nil {
			logger.Error("Failed to load module profile", "path", config.Profile, "error", err)
			os.Exit(1)
		}
	}

	deviceConfig, err := hm10.NewConfigBuilder().
		WithLogger(logger).
		WithBaudRate(baud).
		WithCommandTimeout(time.Second).
		WithInitTimeout(10 * time.Second).
		WithDeferredCallbacks().
		WithDialer(hm10.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: baud,
			IdleGap:  config.IdleGap,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create module config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev, err := hm10.New(ctx, deviceConfig)
	if err != nil {
		logger.Error("Failed to open module", "error", err)
		os.Exit(1)
	}

	if moduleProfile != nil {
		logger.Info("Applying module profile", "path", config.Profile)
		if err := moduleProfile.Apply(ctx, dev); err != nil {
			logger.Error("Failed to apply module profile", "error", err)
			dev.Close()
			os.Exit(1)
		}
	}

	inbox := &Inbox{}
	dev.OnConnect(func(mac string) {
		logger.Info("Master connected", "mac", mac)
	})
	dev.OnDisconnect(func() {
		logger.Info("Master disconnected")
	})
	dev.OnData(func(data []byte) {
		logger.Debug("Data received", "length", len(data))
		inbox.Store(data)
	})
	go func() {
		if err := dev.Loop(ctx); err != nil && err != context.Canceled {
			logger.Error("Event loop stopped", "error", err)
		}
	}()

	logger.Info("Starting HM-10 bridge", "port", config.SerialPort, "baud", baud)

	srv := &Server{
		Logger: logger.With("component", "server"),
		Bridge: dev,
		Inbox:  inbox,
	}
	httpServer := &http.Server{
		Addr:    config.BindAddress,
		Handler: srv,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("Failed to notify systemd", "error", err)
	} else if sent {
		logger.Debug("Notified systemd readiness")
	}
	go watchdog(ctx, logger, srv)

	// Wait for interrupt signal
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig)
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
	}

	logger.Info("Closing module connection")
	if err := dev.Close(); err != nil {
		logger.Error("Failed to close module", "error", err)
		os.Exit(1)
	}
}

// watchdog pets the systemd watchdog for as long as the module answers the
// liveness check. It does nothing when the unit has no WatchdogSec.
func watchdog(ctx context.Context, logger *slog.Logger, srv *Server) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("Failed to read watchdog settings", "error", err)
		return
	}
	if interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !srv.Alive(ctx) {
				logger.Warn("Module not responding, skipping watchdog ping")
				continue
			}
			daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
