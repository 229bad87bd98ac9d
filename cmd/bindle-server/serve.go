package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bindlehq/bindle/internal/auth"
	"github.com/bindlehq/bindle/internal/config"
	"github.com/bindlehq/bindle/internal/events"
	"github.com/bindlehq/bindle/internal/logging"
	"github.com/bindlehq/bindle/internal/provider"
	"github.com/bindlehq/bindle/internal/search"
	"github.com/bindlehq/bindle/internal/storage"
	"github.com/bindlehq/bindle/internal/storage/boltstore"
	"github.com/bindlehq/bindle/internal/storage/filesystem"
	"github.com/bindlehq/bindle/server"
)

func newServeCmd() *cobra.Command {
	var (
		address         string
		directory       string
		backend         string
		boltPath        string
		unauthenticated bool
		logLevel        string
		logJSON         bool
		standardMode    bool
		cacheSize       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bindle-server HTTP listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("address") {
				cfg.Address = address
			}
			if cmd.Flags().Changed("directory") {
				cfg.Directory = directory
			}
			if cmd.Flags().Changed("backend") {
				cfg.Backend = backend
			}
			if cmd.Flags().Changed("bolt-path") {
				cfg.BoltPath = boltPath
			}
			if cmd.Flags().Changed("unauthenticated") {
				cfg.Unauthenticated = unauthenticated
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-json") {
				cfg.LogJSON = logJSON
			}
			if cmd.Flags().Changed("search-standard-mode") {
				cfg.SearchStandardMode = standardMode
			}
			if cmd.Flags().Changed("cache-size") {
				cfg.CacheSize = cacheSize
			}

			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address (e.g. 127.0.0.1:8080)")
	cmd.Flags().StringVar(&directory, "directory", "", "filesystem storage root")
	cmd.Flags().StringVar(&backend, "backend", "", "storage backend: filesystem or bolt")
	cmd.Flags().StringVar(&boltPath, "bolt-path", "", "bbolt database path (backend=bolt)")
	cmd.Flags().BoolVar(&unauthenticated, "unauthenticated", false, "disable identity checks entirely")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "logrus level name")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "emit JSON-formatted logs")
	cmd.Flags().BoolVar(&standardMode, "search-standard-mode", false, "enable the optional fuzzy search mode")
	cmd.Flags().IntVar(&cacheSize, "cache-size", 0, "LRU invoice cache size")

	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	log := logging.New(cfg.LogLevel, cfg.LogJSON)

	engine, closeEngine, err := buildEngine(cfg)
	if err != nil {
		return fmt.Errorf("building storage engine: %w", err)
	}
	defer closeEngine()

	base := provider.New(engine, events.NoOp())
	var p provider.Provider = base
	if cfg.CacheSize > 0 {
		cached, err := provider.NewCaching(base, cfg.CacheSize)
		if err != nil {
			return fmt.Errorf("building caching provider: %w", err)
		}
		p = cached
	}

	idx := search.New()

	opts := []server.Option{
		server.WithStandardSearchMode(cfg.SearchStandardMode),
	}
	if cfg.MaxBodyBytes > 0 {
		opts = append(opts, server.WithMaxBodyBytes(cfg.MaxBodyBytes))
	}
	if cfg.Unauthenticated {
		opts = append(opts, server.WithAuthenticator(auth.New(nil, true)))
	}

	srv := server.New(p, idx, log, opts...)

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", cfg.Address).Info("bindle-server listening")
		var err error
		if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
			err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildEngine(cfg config.Config) (storage.Engine, func(), error) {
	switch cfg.Backend {
	case "bolt":
		store, err := boltstore.New(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store, err := filesystem.New(cfg.Directory)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
