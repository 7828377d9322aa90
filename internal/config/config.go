// Package config handles configuration loading and shared data structures.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/woozymasta/globeview/internal/geo"

	"gopkg.in/yaml.v3"
)

// Config represents the root configuration file structure.
type Config struct {
	Attribution string   `yaml:"attribution,omitempty" json:"attribution,omitempty"`
	CitiesFile  string   `yaml:"cities_file,omitempty" json:"-"`
	CitiesURL   string   `yaml:"cities_url,omitempty" json:"-"`
	Texture     Texture  `yaml:"texture" json:"-"`
	Weather     Upstream `yaml:"weather" json:"-"`
	Cache       Cache    `yaml:"cache" json:"-"`
	Layers      []Layer  `yaml:"layers" json:"layers"`
	Cities      []City   `yaml:"cities,omitempty" json:"-"`
	Globe       Globe    `yaml:"globe" json:"globe"`
	Viewport    Viewport `yaml:"viewport" json:"viewport"`
	Features    Features `yaml:"features" json:"features"`
	ZoomLimit   int      `yaml:"zoom,omitempty" json:"zoom"`
}

// Globe describes the scene sphere the browser renders.
type Globe struct {
	// out-of-range lat/lon handling: reject, clamp or wrap
	Policy       string  `yaml:"policy,omitempty" json:"policy"`
	Radius       float64 `yaml:"radius" json:"radius"`
	CameraOffset float64 `yaml:"camera_offset" json:"camera_offset"`
	MarkerHeight float64 `yaml:"marker_height,omitempty" json:"marker_height"`
}

// Viewport holds interaction tuning for viewport sessions.
type Viewport struct {
	TickInterval     time.Duration `yaml:"tick_interval,omitempty" json:"-"`
	Distance         float64       `yaml:"distance" json:"distance"`
	MinDistance      float64       `yaml:"min_distance" json:"min_distance"`
	MaxDistance      float64       `yaml:"max_distance" json:"max_distance"`
	DragSensitivity  float64       `yaml:"drag_sensitivity" json:"drag_sensitivity"`
	ZoomStep         float64       `yaml:"zoom_step" json:"zoom_step"`
	AutoRotate       float64       `yaml:"auto_rotate" json:"auto_rotate"`
	MapSyncZoom      int           `yaml:"map_sync_zoom,omitempty" json:"map_sync_zoom"`
	AutoRotateEnable bool          `yaml:"auto_rotate_enabled" json:"auto_rotate_enabled"`
}

// Features toggles optional parts of the viewer.
type Features struct {
	Weather bool `yaml:"weather" json:"weather"`
	Cities  bool `yaml:"cities" json:"cities"`
	MapSync bool `yaml:"map_sync" json:"map_sync"`
	Sun     bool `yaml:"sun" json:"sun"`
}

// Upstream configures the weather and geocoding REST provider.
// The API key is never read from the file, only from the environment.
type Upstream struct {
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env,omitempty"`
	APIKey    string        `yaml:"-"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// Cache configures the upstream response cache. Empty Addr selects the in-memory cache.
type Cache struct {
	Addr string `yaml:"addr,omitempty"`
}

// Texture is the equirectangular image wrapped around the globe.
type Texture struct {
	Source string `yaml:"source,omitempty"`
	Width  int    `yaml:"width,omitempty"`
}

// Layer is a 2D map tile layer shown next to the globe.
type Layer struct {
	Name        string `yaml:"name" json:"name"`
	Source      string `yaml:"source" json:"-"`
	Attribution string `yaml:"attribution,omitempty" json:"attribution,omitempty"`
	ZoomLimit   int    `yaml:"zoom,omitempty" json:"zoom"`
	TileSize    int    `yaml:"tile_size,omitempty" json:"-"` // only when processing single image
}

// City is a known location shown as a marker.
type City struct {
	Name      string  `yaml:"name" json:"name"`
	Country   string  `yaml:"country,omitempty" json:"country,omitempty"`
	Latitude  float64 `yaml:"lat" json:"lat"`
	Longitude float64 `yaml:"lon" json:"lon"`
}

// Coordinate returns the city position.
func (c City) Coordinate() geo.GeoCoordinate {
	return geo.GeoCoordinate{Latitude: c.Latitude, Longitude: c.Longitude}
}

// Default returns the configuration used when the file leaves a value unset.
func Default() *Config {
	return &Config{
		Globe: Globe{
			Radius:       5,
			CameraOffset: 10,
			MarkerHeight: 0.05,
			Policy:       "reject",
		},
		Viewport: Viewport{
			Distance:         15,
			MinDistance:      6,
			MaxDistance:      100,
			DragSensitivity:  0.01,
			ZoomStep:         1,
			AutoRotate:       0.003,
			AutoRotateEnable: true,
			MapSyncZoom:      5,
			TickInterval:     100 * time.Millisecond,
		},
		Features: Features{
			Weather: true,
			Cities:  true,
			MapSync: true,
			Sun:     true,
		},
		Weather: Upstream{
			BaseURL:   "https://api.weatherapi.com/v1",
			APIKeyEnv: "WEATHER_API_KEY",
			TTL:       10 * time.Minute,
			Timeout:   15 * time.Second,
		},
		Texture: Texture{
			Width: 4096,
		},
	}
}

// Load reads and parses the YAML configuration file from the specified path.
// Values missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults, resolves secrets and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.ResolveSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ResolveSecrets reads the weather API key from the configured environment variable.
func (c *Config) ResolveSecrets() {
	if c.Weather.APIKeyEnv == "" {
		c.Weather.APIKeyEnv = "WEATHER_API_KEY"
	}
	c.Weather.APIKey = os.Getenv(c.Weather.APIKeyEnv)
}

// DefaultZoomLimit is used when neither the file nor the command line sets a zoom limit.
const DefaultZoomLimit = 6

// ResolveZoomLimit fills an unset zoom limit from the command line value.
func (c *Config) ResolveZoomLimit(flagValue int) {
	if c.ZoomLimit > 0 {
		return
	}
	if flagValue > 0 {
		c.ZoomLimit = flagValue
		return
	}
	c.ZoomLimit = DefaultZoomLimit
}

// Policy returns the parsed coordinate policy.
func (c *Config) Policy() geo.CoordinatePolicy {
	// Validate already rejected unknown values
	p, _ := geo.ParsePolicy(c.Globe.Policy)
	return p
}

// Validate checks that the configuration values are sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Globe.Radius <= 0 {
		errs = append(errs, fmt.Sprintf("globe.radius must be positive, got %v", c.Globe.Radius))
	}
	if c.Globe.CameraOffset <= 0 {
		errs = append(errs, fmt.Sprintf("globe.camera_offset must be positive, got %v", c.Globe.CameraOffset))
	}
	if c.Globe.MarkerHeight < 0 {
		errs = append(errs, "globe.marker_height must not be negative")
	}
	if _, err := geo.ParsePolicy(c.Globe.Policy); err != nil {
		errs = append(errs, "globe.policy: "+err.Error())
	}
	if c.Viewport.MinDistance <= c.Globe.Radius {
		errs = append(errs, fmt.Sprintf("viewport.min_distance must exceed globe.radius (%v)", c.Globe.Radius))
	}
	if c.Viewport.MaxDistance < c.Viewport.MinDistance {
		errs = append(errs, "viewport.max_distance must not be below viewport.min_distance")
	}
	if c.Viewport.TickInterval <= 0 {
		errs = append(errs, "viewport.tick_interval must be positive")
	}
	if c.Features.Weather && c.Weather.BaseURL == "" {
		errs = append(errs, "weather.base_url is required when the weather feature is on")
	}

	seen := make(map[string]bool)
	for i, l := range c.Layers {
		if l.Name == "" {
			errs = append(errs, fmt.Sprintf("layers[%d].name is required", i))
			continue
		}
		if seen[l.Name] {
			errs = append(errs, fmt.Sprintf("layers[%d].name %q is duplicated", i, l.Name))
		}
		seen[l.Name] = true
	}

	for i, city := range c.Cities {
		if city.Latitude < -90 || city.Latitude > 90 || city.Longitude < -180 || city.Longitude > 180 {
			errs = append(errs, fmt.Sprintf("cities[%d] %q has coordinates out of range", i, city.Name))
		}
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}
