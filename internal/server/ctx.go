package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io/fs"
	"path/filepath"

	"github.com/woozymasta/globeview/assets"
	"github.com/woozymasta/globeview/internal/config"
	"github.com/woozymasta/globeview/internal/geo"
	"github.com/woozymasta/globeview/internal/processor"
	"github.com/woozymasta/globeview/internal/remote"
	"github.com/woozymasta/globeview/internal/viewport"

	"github.com/chai2010/webp"
	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
)

// Lookup resolves weather and places. *remote.Client implements it.
type Lookup interface {
	Weather(ctx context.Context, at geo.GeoCoordinate) (*remote.Weather, error)
	Geocode(ctx context.Context, query string) ([]remote.Place, error)
}

// ServerContext holds dependencies for request handlers.
type ServerContext struct {
	Config          *config.Config
	Projector       *geo.Projector
	Lookup          Lookup
	Minifier        *minify.M
	LayerNames      map[string]bool
	TileRoot        string
	TexturePath     string
	IndexHTML       []byte
	CitiesJSON      []byte
	TransparentTile []byte
	ViewportOptions viewport.Options
}

// NewServerContext builds the projector, renders the viewer page and
// precomputes the city marker layer.
func NewServerContext(cfg *config.Config, lookup Lookup, dataDir string) (*ServerContext, error) {
	log.Info().
		Int("layers_count", len(cfg.Layers)).
		Int("cities_count", len(cfg.Cities)).
		Msg("Initializing server context")

	projector, err := geo.NewProjector(cfg.Globe.Radius, cfg.Policy())
	if err != nil {
		return nil, err
	}

	m := assets.NewMinifier()
	index, err := assets.Build(m)
	if err != nil {
		return nil, err
	}

	transparent, err := transparentTile(256)
	if err != nil {
		return nil, err
	}

	s := &ServerContext{
		Config:          cfg,
		Projector:       projector,
		Lookup:          lookup,
		Minifier:        m,
		LayerNames:      make(map[string]bool, len(cfg.Layers)),
		TileRoot:        filepath.Join(dataDir, "tiles"),
		TexturePath:     filepath.Join(dataDir, "globe", "texture.webp"),
		IndexHTML:       index,
		TransparentTile: transparent,
		ViewportOptions: viewport.OptionsFromConfig(cfg),
	}

	for _, l := range cfg.Layers {
		s.LayerNames[l.Name] = true
		log.Debug().Str("layer", l.Name).Msg("Tile layer registered")
	}

	if cfg.Features.Cities {
		if err := s.loadCities(); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("policy", projector.Policy.String()).
		Float64("radius", projector.Radius).
		Msg("Server context initialized successfully")

	return s, nil
}

// loadCities merges inline and file cities and renders them once as minified GeoJSON.
func (s *ServerContext) loadCities() error {
	cities := append([]config.City(nil), s.Config.Cities...)

	if s.Config.CitiesFile != "" {
		fromFile, err := processor.LoadCitiesFile(s.Config.CitiesFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Warn().Str("path", s.Config.CitiesFile).Msg("Cities file not found, run the loader first")
		case err != nil:
			return err
		default:
			log.Debug().
				Str("path", s.Config.CitiesFile).
				Int("count", len(fromFile)).
				Msg("Cities loaded from file")
			cities = append(cities, fromFile...)
		}
	}

	fc := processor.CitiesToGeoJSON(cities, s.Projector, s.Config.Globe.MarkerHeight)
	data, err := marshalMinified(s.Minifier, "application/geo+json", fc)
	if err != nil {
		return err
	}

	s.CitiesJSON = data
	log.Info().Int("markers", len(fc.Features)).Msg("City markers ready")
	return nil
}

// NewController starts a viewport owned by one session.
func (s *ServerContext) NewController() *viewport.Controller {
	return viewport.NewController(s.Projector, s.ViewportOptions)
}

func transparentTile(size int) ([]byte, error) {
	var buf bytes.Buffer
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
