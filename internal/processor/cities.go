// Package processor builds the static data the viewer serves: 2D map tiles,
// the globe texture and the city marker layer.
package processor

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/woozymasta/globeview/internal/config"
	"github.com/woozymasta/globeview/internal/geo"

	"github.com/rs/zerolog/log"
)

// CitiesToGeoJSON converts known cities into marker features. Each feature
// carries its scene position so the browser can place it without doing the maths.
// Cities the projector rejects are skipped with a warning.
func CitiesToGeoJSON(cities []config.City, p *geo.Projector, markerHeight float64) geo.GeoJSONFeatureCollection {
	fc := geo.NewFeatureCollection(len(cities))

	for _, city := range cities {
		pos, err := p.Project(city.Coordinate(), markerHeight)
		if err != nil {
			log.Warn().Err(err).Str("city", city.Name).Msg("Skipping city marker")
			continue
		}

		props := map[string]interface{}{
			"name":  city.Name,
			"scene": []float64{pos.X, pos.Y, pos.Z},
		}
		if city.Country != "" {
			props["country"] = city.Country
		}

		fc.Features = append(fc.Features, geo.NewPointFeature(city.Coordinate(), props))
	}

	return fc
}

// LoadCitiesCSV reads "name,lat,lon[,country]" rows. A header row is
// detected by a non-numeric latitude and skipped.
func LoadCitiesCSV(r io.Reader) ([]config.City, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var cities []config.City
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("line %d: want name,lat,lon", line)
		}

		lat, err1 := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err1 != nil || err2 != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid coordinates %q, %q", line, rec[1], rec[2])
		}

		city := config.City{Name: strings.TrimSpace(rec[0]), Latitude: lat, Longitude: lon}
		if len(rec) > 3 {
			city.Country = strings.TrimSpace(rec[3])
		}
		cities = append(cities, city)
	}

	return cities, nil
}

// LoadCitiesFile reads a CSV, YAML or JSON city list, picked by extension.
func LoadCitiesFile(path string) ([]config.City, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCitiesCSV(f)
	case ".json":
		var cities []config.City
		if err := json.NewDecoder(f).Decode(&cities); err != nil {
			return nil, err
		}
		return cities, nil
	default:
		return decodeCitiesYAML(f)
	}
}

// SaveGeoJSON marshals the feature collection and writes it to disk.
func SaveGeoJSON(path string, fc geo.GeoJSONFeatureCollection) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	// We care about write errors on close
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			log.Error().Err(closeErr).Str("path", path).Msg("Failed to close file")
		}
	}()

	return json.NewEncoder(f).Encode(fc)
}
