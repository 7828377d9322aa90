package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/woozymasta/globeview/internal/cache"
	"github.com/woozymasta/globeview/internal/config"
	"github.com/woozymasta/globeview/internal/logger"
	"github.com/woozymasta/globeview/internal/remote"
	"github.com/woozymasta/globeview/internal/server"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config"     env:"CONFIG_FILE"    description:"Path to configuration file" default:"config.yaml"`
	DataDir    string `short:"d" long:"data"       env:"DATA_DIR"       description:"Directory written by the loader" default:"data"`
	Addr       string `short:"a" long:"addr"       env:"LISTEN_ADDRESS" description:"Address to listen on"       default:"0.0.0.0"`
	Port       int    `short:"p" long:"port"       env:"LISTEN_PORT"    description:"Port to listen on"          default:"8080"`
	ZoomLimit  int    `short:"z" long:"zoom-limit" env:"ZOOM_LIMIT"     description:"Tiles zoom limit, used when the config sets none"`
	CacheAddr  string `long:"cache-addr"           env:"CACHE_ADDR"     description:"Valkey address for upstream responses, in-memory when empty"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Setup Logging
	opts.Logger.Setup()

	// Load Config
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	cfg.ResolveZoomLimit(opts.ZoomLimit)
	if opts.CacheAddr != "" {
		cfg.Cache.Addr = opts.CacheAddr
	}

	if cfg.Features.Weather && cfg.Weather.APIKey == "" {
		log.Warn().
			Str("env", cfg.Weather.APIKeyEnv).
			Msg("Weather API key is not set, weather and place search will fail")
	}

	var store cache.Cache
	if cfg.Cache.Addr != "" {
		vk, err := cache.NewValkey(cfg.Cache.Addr, "globeview:")
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Cache.Addr).Msg("Failed to connect to cache")
		}
		defer vk.Close()
		store = vk
		log.Info().Str("addr", cfg.Cache.Addr).Msg("Using valkey response cache")
	} else {
		store = cache.NewMemory()
	}

	srvCtx, err := server.NewServerContext(cfg, remote.New(cfg.Weather, store), opts.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           srvCtx.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	log.Info().
		Str("addr", listenAddr).
		Int("layers_loaded", len(cfg.Layers)).
		Int("default_zoom", cfg.ZoomLimit).
		Msg("Web server started")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}

	log.Info().Msg("Web server stopped")
}
