package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// this is set by goreleaser
var version string

func init() {
	if version == "" {
		version = "DEV"
	}
}

func main() {
	config, err := loadConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// set log level
	logLevel := zerolog.DebugLevel
	if config.Trace {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to a rotated logfile if specified
	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if config.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.LogFile), 0o755); err != nil {
			log.Fatal().Err(err).Msg("Cannot create log directory")
		}
		logOutputs = append(logOutputs, &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    config.LogMaxSize,
			MaxBackups: config.LogMaxBackups,
			LocalTime:  true,
		})
	}
	log.Logger = log.Level(logLevel).Output(zerolog.MultiLevelWriter(logOutputs...)).
		With().Str("version", version).Logger()

	if err := run(config); err != nil {
		log.Fatal().Err(err).Msg("Exiting")
	}
}

func run(config Config) error {
	originURL, originHost, err := config.originURL()
	if err != nil {
		return err
	}

	storage, err := cache.NewSQLiteStorage(config.dbFilename())
	if err != nil {
		return fmt.Errorf("open cache db: %w", err)
	}
	defer storage.Close()

	worker := offlinecache.CreateWorker(offlinecache.Config{
		Storage:       storage,
		OriginURL:     originURL,
		OriginHost:    originHost,
		CacheName:     config.CacheName,
		Policy:        config.Policy,
		ControlPrefix: config.ControlPrefix,
		Logger:        &log.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: worker,
	}
	// event streams never end on their own
	server.RegisterOnShutdown(worker.Clients().DisconnectAll)
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", config.Port, originURL.String(), originHost)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Could not shut down server")
	}
	if err := worker.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Background operations did not finish")
	}
	return nil
}
