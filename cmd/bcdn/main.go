// Command bcdn runs a cache node or a proxy node from a single TOML
// configuration file.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bcdn-project/bcdn/internal/cache"
	"github.com/bcdn-project/bcdn/internal/cacheserver"
	"github.com/bcdn-project/bcdn/internal/config"
	"github.com/bcdn-project/bcdn/internal/globset"
	"github.com/bcdn-project/bcdn/internal/logging"
	"github.com/bcdn-project/bcdn/internal/pool"
	"github.com/bcdn-project/bcdn/internal/proxyserver"
)

var configPath string

func main() {
	logging.Init()

	root := &cobra.Command{
		Use:   "bcdn",
		Short: "A small CDN: lazy-mirroring cache nodes behind a redirecting proxy",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "bcdn.toml", "path to the TOML config file")

	cacheCmd := &cobra.Command{Use: "cache", Short: "Manage the cache node"}
	cacheCmd.AddCommand(
		&cobra.Command{Use: "run", Short: "Run the cache node", RunE: runCache},
		&cobra.Command{Use: "install", Short: "Placeholder: logs that service installation is not implemented", RunE: installCache},
		&cobra.Command{Use: "clean", Short: "Rescan the cache root, logging unverifiable files (nothing is removed)", RunE: cleanCache},
	)

	proxyCmd := &cobra.Command{Use: "proxy", Short: "Manage the proxy node"}
	proxyCmd.AddCommand(
		&cobra.Command{Use: "run", Short: "Run the proxy node", RunE: runProxy},
		&cobra.Command{Use: "install", Short: "Placeholder: logs that service installation is not implemented", RunE: installProxy},
	)

	root.AddCommand(cacheCmd, proxyCmd)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("bcdn: fatal error")
	}
}

func runCache(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Cache.Bind == "" {
		return fmt.Errorf("bcdn: cache.bind is not configured in %s", configPath)
	}

	caches := make(map[string]*cache.Cache, len(cfg.Entries))
	for name, ec := range cfg.Entries {
		c, err := cache.New(name, ec, cfg.Cache.RootPath)
		if err != nil {
			return err
		}
		caches[name] = c
		log.Info().Str("entry", name).Str("base_url", ec.BaseURL).Msg("bcdn: entry ready")
	}

	onFailure, err := cfg.Cache.OnFailurePolicy()
	if err != nil {
		return err
	}

	p := pool.New(cfg.Cache.MaxDownloads, http.DefaultClient, caches, onFailure)
	defer p.Quit()

	srv := cacheserver.New(caches, p)
	r := chi.NewRouter()
	srv.Routes(r)

	return serve(cmd.Context(), cfg.Cache.Bind, r)
}

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Proxy.Bind == "" {
		return fmt.Errorf("bcdn: proxy.bind is not configured in %s", configPath)
	}

	entries := make(map[string]proxyserver.CacheInfo, len(cfg.Entries))
	for name, ec := range cfg.Entries {
		set, err := globset.Compile(ec.Patterns)
		if err != nil {
			return fmt.Errorf("bcdn: entry %s: %w", name, err)
		}
		entries[name] = proxyserver.CacheInfo{Patterns: set, Nodes: cfg.Proxy.Nodes}
	}

	srv := proxyserver.New(entries)
	r := chi.NewRouter()
	srv.Routes(r)

	return serve(cmd.Context(), cfg.Proxy.Bind, r)
}

func serve(ctx context.Context, bind string, handler http.Handler) error {
	srv := &http.Server{Addr: bind, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("bind", bind).Msg("bcdn: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info().Msg("bcdn: shutting down")
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func installCache(cmd *cobra.Command, args []string) error {
	log.Info().Msg("bcdn: cache install is not implemented on this platform; run 'bcdn cache run' directly or wire it into your own service manager")
	return nil
}

func cleanCache(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	for name, ec := range cfg.Entries {
		if _, err := cache.New(name, ec, cfg.Cache.RootPath); err != nil {
			return err
		}
		log.Info().Str("entry", name).Msg("bcdn: rescanned; unverifiable files were skipped")
	}
	return nil
}

func installProxy(cmd *cobra.Command, args []string) error {
	log.Info().Msg("bcdn: proxy install is not implemented on this platform; run 'bcdn proxy run' directly or wire it into your own service manager")
	return nil
}
