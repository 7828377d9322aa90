package processor

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/woozymasta/globeview/internal/config"

	"gopkg.in/yaml.v3"
)

// Internal structures for JSON parsing
type feedCity struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Lon     float64 `json:"lon"`
}

// FetchCities downloads a JSON city list, accepting either "lng" or "lon".
func FetchCities(client *http.Client, url string) ([]config.City, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	// Explicitly ignore close error as it's a read-only operation
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var feed []feedCity
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, err
	}

	cities := make([]config.City, 0, len(feed))
	for _, c := range feed {
		lon := c.Lon
		if lon == 0 {
			lon = c.Lng
		}
		cities = append(cities, config.City{
			Name:      strings.TrimSpace(c.Name),
			Country:   c.Country,
			Latitude:  c.Lat,
			Longitude: lon,
		})
	}

	return cities, nil
}

func decodeCitiesYAML(r io.Reader) ([]config.City, error) {
	var cities []config.City
	if err := yaml.NewDecoder(r).Decode(&cities); err != nil {
		return nil, err
	}
	return cities, nil
}

// SaveCities writes a city list as JSON, CSV or YAML, picked by extension.
func SaveCities(path string, cities []config.City) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cities, "", "  ")
	case ".csv":
		var sb strings.Builder
		w := csv.NewWriter(&sb)
		_ = w.Write([]string{"name", "lat", "lon", "country"})
		for _, c := range cities {
			_ = w.Write([]string{
				c.Name,
				strconv.FormatFloat(c.Latitude, 'f', -1, 64),
				strconv.FormatFloat(c.Longitude, 'f', -1, 64),
				c.Country,
			})
		}
		w.Flush()
		data, err = []byte(sb.String()), w.Error()
	default:
		data, err = yaml.Marshal(cities)
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
