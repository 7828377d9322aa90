package main

import (
	"crypto/tls"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/woozymasta/globeview/internal/config"
	"github.com/woozymasta/globeview/internal/logger"
	"github.com/woozymasta/globeview/internal/processor"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile  string   `short:"c" long:"config"       env:"CONFIG_FILE"  description:"Path to configuration file" default:"config.yaml"`
	DataDir     string   `short:"d" long:"data"         env:"DATA_DIR"     description:"Output directory for tiles and the globe texture" default:"data"`
	Limit       []string `short:"l" long:"limit"        env:"LIMIT_NAMES"  description:"Limit processing to specific layer names"`
	Concurrency int      `short:"p" long:"concurrency"  env:"CONCURRENCY"  description:"Concurrency" default:"50"`
	ZoomLimit   int      `short:"z" long:"zoom-limit"   env:"ZOOM_LIMIT"   description:"Tiles zoom limit, used when the config sets none"`
	TilesOnly   bool     `short:"t" long:"tiles-only"   description:"Process map tiles only"`
	GlobeOnly   bool     `short:"g" long:"globe-only"   description:"Process the globe texture and cities only"`
	Force       bool     `short:"f" long:"force"        description:"Force overwrite of existing files"`
	FastCheck   bool     `short:"F" long:"fast-check"   description:"Skip processing if cache exist"`
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

	opts.Logger.Setup()

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	processTiles := true
	processGlobe := true
	if opts.TilesOnly && !opts.GlobeOnly {
		processGlobe = false
	} else if opts.GlobeOnly && !opts.TilesOnly {
		processTiles = false
	}

	client := &http.Client{
		Transport: &http.Transport{
			TLSNextProto:        make(map[string]func(string, *tls.Conn) http.RoundTripper),
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
		Timeout: 15 * time.Second,
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 50
	}

	cfg.ResolveZoomLimit(opts.ZoomLimit)

	if processGlobe {
		loadGlobe(client, cfg, opts)
	}

	if !processTiles {
		log.Info().Msg("Loader finished successfully")
		return
	}

	layers := selectLayers(cfg.Layers, opts.Limit)

	log.Info().
		Int("layers_total", len(cfg.Layers)).
		Int("layers_queued", len(layers)).
		Bool("fast_check", opts.FastCheck).
		Msg("Starting loader")

	tiler := &processor.Tiler{
		Client:      client,
		Root:        filepath.Join(opts.DataDir, "tiles"),
		Concurrency: opts.Concurrency,
		Force:       opts.Force,
	}

	for _, layer := range layers {
		if err := tiler.ProcessLayer(layer, cfg.ZoomLimit, opts.FastCheck); err != nil {
			log.Error().Err(err).Str("layer", layer.Name).Msg("Failed to process layer")
		}
	}

	log.Info().Msg("Loader finished successfully")
}

// loadGlobe writes the globe texture and refreshes the city list.
func loadGlobe(client *http.Client, cfg *config.Config, opts Options) {
	if cfg.Texture.Source != "" {
		out := filepath.Join(opts.DataDir, "globe", "texture.webp")
		if err := processor.ExportGlobeTexture(client, cfg.Texture.Source, cfg.Texture.Width, out, opts.Force); err != nil {
			log.Error().Err(err).Str("source", cfg.Texture.Source).Msg("Failed to export globe texture")
		}
	}

	if cfg.CitiesURL == "" || cfg.CitiesFile == "" {
		return
	}

	if !opts.Force {
		if _, err := os.Stat(cfg.CitiesFile); err == nil {
			log.Debug().Str("path", cfg.CitiesFile).Msg("Cities file exists, skipping")
			return
		}
	}

	cities, err := processor.FetchCities(client, cfg.CitiesURL)
	if err != nil {
		log.Error().Err(err).Str("url", cfg.CitiesURL).Msg("Failed to fetch cities")
		return
	}

	if err := processor.SaveCities(cfg.CitiesFile, cities); err != nil {
		log.Error().Err(err).Str("path", cfg.CitiesFile).Msg("Failed to save cities")
		return
	}

	log.Info().
		Str("path", cfg.CitiesFile).
		Int("count", len(cities)).
		Msg("Cities saved")
}

// selectLayers filters layers by --limit, keeping the order of the flags.
func selectLayers(all []config.Layer, limit []string) []config.Layer {
	if len(limit) == 0 {
		return all
	}

	available := make(map[string]config.Layer, len(all))
	for _, l := range all {
		available[l.Name] = l
	}

	selected := make([]config.Layer, 0, len(limit))
	seen := make(map[string]bool)

	for _, name := range limit {
		if seen[name] {
			continue
		}
		seen[name] = true

		if l, ok := available[name]; ok {
			selected = append(selected, l)
		} else {
			log.Error().
				Str("name", name).
				Msg("Layer specified in --limit not found in configuration")
		}
	}

	return selected
}
