package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jason-merrell/grok-auto-retry/internal/config"
	"github.com/jason-merrell/grok-auto-retry/internal/dom"
	"github.com/jason-merrell/grok-auto-retry/internal/engine"
	"github.com/jason-merrell/grok-auto-retry/internal/logbuf"
	"github.com/jason-merrell/grok-auto-retry/internal/storage"
)

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, configFromFile, err := loadConfig()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	ring := logbuf.NewRing(cfg.Engine.LogCapacity)
	logger := slog.New(logbuf.Fanout(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}),
		logbuf.NewHandler(ring, logLevel),
	))

	logger.Info("grokretry starting",
		"version", Version,
		"config", configPath,
		"listen", cfg.Proxy.Listen,
		"origin", cfg.Proxy.Origin)

	durable, err := storage.OpenBadger(filepath.Join(dataDir, "db"), logger)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	store := &storage.Store{
		Durable: durable,
		Tab:     storage.NewCacheArea(cfg.Engine.TabStateTTL()),
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close session store", "error", err)
		}
	}()

	// Headless mode has no real page: the submit control is a scripted
	// stand-in so the retry loop stays observable end to end
	page := dom.NewMemoryPage()
	button := dom.NewMemoryElement("Make video")
	button.OnClick = func() {
		logger.Info("Resubmit requested", "clicks", button.Clicks())
	}
	page.AddElement(cfg.Selectors.MakeVideoButton[0], button)
	page.AddElement(cfg.Selectors.PromptInput[0], dom.NewMemoryElement(""))

	eng := engine.New(cfg, page, store, ring, logger)

	if mediaID == "" {
		mediaID = uuid.NewString()
		logger.Info("No media id given, generated one", "media_id", mediaID)
	}
	if err := eng.Start(mediaID); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer eng.Stop()

	if configFromFile {
		stopWatch, err := config.Watch(configPath, logger, func(next *config.Config) {
			logger.Warn("Engine settings apply on next start", "config", configPath)
		})
		if err != nil {
			logger.Warn("Config watching disabled", "error", err)
		} else {
			defer stopWatch()
		}
	}

	origin, err := url.Parse(cfg.Proxy.Origin)
	if err != nil {
		return fmt.Errorf("invalid proxy origin %q: %w", cfg.Proxy.Origin, err)
	}
	proxy := httputil.NewSingleHostReverseProxy(origin)
	proxy.Transport = eng.Transport(http.DefaultTransport)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = origin.Host
	}

	srv := &http.Server{Addr: cfg.Proxy.Listen, Handler: proxy}

	if cfg.Proxy.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("Metrics endpoint up", "addr", cfg.Proxy.MetricsAddr)
			if err := http.ListenAndServe(cfg.Proxy.MetricsAddr, mux); err != nil {
				logger.Error("Metrics endpoint failed", "error", err)
			}
		}()
	}

	if prompt != "" {
		eng.StartSession(prompt)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Proxy listening", "addr", cfg.Proxy.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("proxy failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Proxy shutdown incomplete", "error", err)
	}

	summary := eng.Machine().Summary()
	if summary.EndedAt.IsZero() {
		return nil
	}
	logger.Info("Last session",
		"outcome", string(summary.Outcome),
		"retries", summary.RetryCount,
		"videos", summary.VideosGenerated,
		"credits", summary.CreditsUsed)
	return nil
}

// loadConfig reads the config file, falling back to defaults when the file
// does not exist. The second return reports whether a file was read.
func loadConfig() (*config.Config, bool, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return config.Default(), false, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, true, nil
}
