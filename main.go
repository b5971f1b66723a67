package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"i4.energy/across/atmodem/modem"
	"i4.energy/across/atmodem/simcom"
	"i4.energy/across/atmodem/store"
)

var errModemClosed = errors.New("modem connection closed")

func main() {
	opts, err := ParseOptions(os.Args[1:])
	if isHelp(err) {
		fmt.Println(err)
		return
	}
	if err != nil {
		slog.Error("Failed to parse arguments", "error", err)
		os.Exit(2)
	}

	config, err := LoadConfig(WithDefaults(), WithFile(opts.ConfigFile), WithEnv(), WithFlags(opts))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(config.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil {
		logger.Error("Gateway stopped", "error", err)
		os.Exit(1)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dialer(config *Config, logger *slog.Logger) modem.Dialer {
	mode := modem.DefaultMode
	mode.BaudRate = config.BaudRate

	var d modem.Dialer = modem.SerialDialer{PortName: config.SerialPort, Mode: &mode}
	if config.Trace {
		d = modem.TraceDialer{
			Dialer: d,
			Logger: slog.NewLogLogger(logger.With("component", "trace").Handler(), slog.LevelDebug),
		}
	}
	return d
}

// run opens the modem and serves the API until ctx ends or the modem goes away.
func run(ctx context.Context, config *Config, logger *slog.Logger) error {
	db, err := store.Open(config.DatabasePath, logger.With("component", "store"))
	if err != nil {
		return err
	}
	defer db.Close()

	hub := NewHub(logger.With("component", "hub"))
	recorder := store.NewRecorder(db, 0)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(5 * time.Second).
		WithInitTimeout(30 * time.Second).
		WithLogger(logger.With("component", "modem")).
		WithDialer(dialer(config, logger)).
		Build()
	if err != nil {
		return fmt.Errorf("create modem config: %w", err)
	}

	m, err := modem.Open(ctx, modemConfig)
	if err != nil {
		return err
	}

	sim := simcom.New(m, logger.With("component", "simcom"))
	defer sim.Close()

	sim.Handle(hub)
	sim.Handle(recorder)
	sim.Handle(modem.HandlerFunc(func(e modem.Event) {
		if e.Kind == modem.EventClose {
			cancel(errModemClosed)
		}
	}))

	logger.Info("Starting SMS Gateway", "serial_port", config.SerialPort)

	if err := sim.UnlockSIM(ctx, config.SimPIN); err != nil {
		return fmt.Errorf("unlock SIM: %w", err)
	}
	if err := sim.CheckSIM(ctx); err != nil {
		return err
	}

	if config.APN != "" {
		if err := sim.StartGPRS(ctx, config.APN); err != nil {
			logger.Warn("GPRS unavailable", "error", err, "apn", config.APN)
		}
	}
	if config.GPSInterval > 0 {
		if err := sim.EnableGPS(ctx); err != nil {
			logger.Warn("GPS unavailable", "error", err)
		} else {
			sim.StartGPSInfo(config.GPSInterval)
		}
	}

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger: logger.With("component", "server"),
			Modem:  m,
			Store:  db,
			Events: hub,
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recorder.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to gracefully shutdown server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if err := context.Cause(ctx); errors.Is(err, errModemClosed) {
		return err
	}
	return nil
}
