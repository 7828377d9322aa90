package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/woozymasta/globeview/internal/config"
	"github.com/woozymasta/globeview/internal/geo"
	"github.com/woozymasta/globeview/internal/metrics"

	"github.com/chai2010/webp"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// TilePath is where a layer tile lives below root.
func TilePath(root, layer string, c geo.TileCoordinate) string {
	return filepath.Join(root, layer, strconv.Itoa(c.Z), strconv.Itoa(c.X), strconv.Itoa(c.Y)+".webp")
}

// IsTemplate reports whether source is a slippy map URL template.
func IsTemplate(source string) bool {
	return strings.Contains(source, "{z}") || strings.Contains(source, "{x}")
}

// Tiler builds the on-disk WebP pyramid of the 2D map layers.
type Tiler struct {
	Client      *http.Client
	Root        string
	Concurrency int
	Force       bool
}

type job struct {
	Layer config.Layer
	Coord geo.TileCoordinate
}

type result struct {
	Coord geo.TileCoordinate
	Valid bool
}

// ProcessLayer fills Root/<layer>/z/x/y.webp for one layer.
// A source with {z}/{x}/{y} placeholders is downloaded tile by tile,
// anything else is loaded as a single image and sliced.
func (t *Tiler) ProcessLayer(layer config.Layer, defaultZoom int, fastCheck bool) error {
	if layer.Source == "" {
		return nil
	}

	zoomLimit := layer.ZoomLimit
	if zoomLimit <= 0 {
		zoomLimit = defaultZoom
	}

	if fastCheck {
		baseDir := filepath.Join(t.Root, layer.Name)
		if _, err := os.Stat(baseDir); err == nil {
			log.Info().
				Str("layer", layer.Name).
				Msg("Layer directory exists, skipping (fast-check)")
			return nil
		}
	}

	if IsTemplate(layer.Source) {
		t.download(layer, zoomLimit)
		return nil
	}

	log.Info().
		Str("layer", layer.Name).
		Str("source", layer.Source).
		Msg("Starting single image processing (download & slice)")

	tileSize := layer.TileSize
	if tileSize <= 0 {
		tileSize = 256
	}

	src, err := loadSourceImage(t.Client, layer.Source)
	if err != nil {
		return err
	}

	return t.slice(layer.Name, src, zoomLimit, tileSize)
}

// download walks the pyramid breadth first and only descends below tiles
// that actually exist upstream.
func (t *Tiler) download(layer config.Layer, zoomLimit int) {
	log.Info().Str("layer", layer.Name).Msg("Starting tile download")

	current := []geo.TileCoordinate{{Z: 0, X: 0, Y: 0}}

	for z := 0; z <= zoomLimit; z++ {
		if len(current) == 0 {
			break
		}
		if z > 0 && !probeLevel(t.Client, current, layer.Source) {
			log.Info().Int("zoom", z).Msg("No data found at zoom level, stopping")
			break
		}

		log.Debug().Int("zoom", z).Int("count", len(current)).Msg("Processing zoom level")

		valid := t.batch(layer, current)

		next := make([]geo.TileCoordinate, 0, len(valid)*4)
		for _, c := range valid {
			children := c.Children()
			next = append(next, children[:]...)
		}
		current = next
	}
}

// slice scales src to a 2^z grid for every zoom level and writes the tiles.
func (t *Tiler) slice(layerName string, src image.Image, zoomLimit, tileSize int) error {
	bounds := src.Bounds()
	log.Info().
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Msg("Source image loaded, starting tiling")

	for z := 0; z <= zoomLimit; z++ {
		gridSize := 1 << z
		totalPixels := gridSize * tileSize

		log.Debug().
			Int("zoom", z).
			Int("grid", gridSize).
			Int("px", totalPixels).
			Msg("Processing zoom level")

		// always resample from the original to keep quality
		dst := image.NewRGBA(image.Rect(0, 0, totalPixels, totalPixels))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			firstErr error
		)
		// limits file I/O concurrency
		sem := make(chan struct{}, t.workers())

		for x := 0; x < gridSize; x++ {
			for y := 0; y < gridSize; y++ {
				wg.Add(1)
				sem <- struct{}{}

				go func(c geo.TileCoordinate) {
					defer wg.Done()
					defer func() { <-sem }()

					rect := image.Rect(c.X*tileSize, c.Y*tileSize, (c.X+1)*tileSize, (c.Y+1)*tileSize)
					if err := t.writeTile(layerName, c, dst.SubImage(rect), 85); err != nil {
						log.Error().Err(err).Str("layer", layerName).Msg("Failed to write tile")
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
					}
				}(geo.TileCoordinate{Z: z, X: x, Y: y})
			}
		}
		wg.Wait()

		if firstErr != nil {
			return firstErr
		}
	}

	return nil
}

func (t *Tiler) batch(layer config.Layer, tiles []geo.TileCoordinate) []geo.TileCoordinate {
	jobs := make(chan job, len(tiles))
	results := make(chan result, len(tiles))

	for _, c := range tiles {
		jobs <- job{Layer: layer, Coord: c}
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < t.workers(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				isValid, err := t.fetchTile(j)
				if err != nil {
					log.Trace().
						Err(err).
						Str("url", BuildURL(j.Layer.Source, j.Coord)).
						Msg("Failed to download tile")
				}
				results <- result{Coord: j.Coord, Valid: isValid}
			}
		}()
	}
	wg.Wait()
	close(results)

	var valid []geo.TileCoordinate
	for res := range results {
		if res.Valid {
			valid = append(valid, res.Coord)
		}
	}

	return valid
}

// fetchTile downloads one tile and stores it as WebP.
// It reports false for missing or blank tiles so their children are skipped.
func (t *Tiler) fetchTile(j job) (bool, error) {
	if t.exists(TilePath(t.Root, j.Layer.Name, j.Coord)) {
		return true, nil
	}

	url := BuildURL(j.Layer.Source, j.Coord)
	resp, err := t.Client.Get(url)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		log.Trace().Str("url", url).Msg("Tile not found (404)")
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}

	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		log.Trace().Err(err).Str("url", url).Msg("Failed to decode image")
		return false, nil // Not an image or corrupted
	}

	// map servers often answer out-of-bounds requests with 1px tiles
	if img.Bounds().Dx() <= 1 {
		log.Trace().Str("url", url).Msg("Filtered empty tile")
		return false, nil
	}

	if err := t.writeTile(j.Layer.Name, j.Coord, img, 80); err != nil {
		return false, err
	}

	return true, nil
}

func (t *Tiler) writeTile(layer string, c geo.TileCoordinate, img image.Image, quality float32) error {
	outPath := TilePath(t.Root, layer, c)
	if t.exists(outPath) {
		return nil
	}

	if err := writeWebP(outPath, img, quality); err != nil {
		return err
	}

	metrics.TilesWritten.WithLabelValues(layer).Inc()
	return nil
}

// exists reports whether a non-empty file is already there and may be kept.
func (t *Tiler) exists(path string) bool {
	if t.Force {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func (t *Tiler) workers() int {
	if t.Concurrency <= 0 {
		return 1
	}
	return t.Concurrency
}

func writeWebP(path string, img image.Image, quality float32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := webp.Encode(f, img, &webp.Options{Lossless: false, Quality: quality}); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// loadSourceImage decodes an image from a URL or a local path.
func loadSourceImage(client *http.Client, source string) (image.Image, error) {
	var reader io.Reader

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		log.Info().Str("url", source).Msg("Downloading source image...")
		resp, err := client.Get(source)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("download failed: %d", resp.StatusCode)
		}

		// some decoders need to seek
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(body)
	} else {
		f, err := os.Open(source)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()

		reader = f
	}

	img, format, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	log.Info().Str("format", format).Msg("Image decoded successfully")
	return img, nil
}

// BuildURL fills {z}, {x}, {y} and {tms_y} in a tile URL template.
func BuildURL(tpl string, c geo.TileCoordinate) string {
	s := strings.ReplaceAll(tpl, "{z}", strconv.Itoa(c.Z))
	s = strings.ReplaceAll(s, "{x}", strconv.Itoa(c.X))
	s = strings.ReplaceAll(s, "{y}", strconv.Itoa(c.Y))

	if strings.Contains(s, "{tms_y}") {
		s = strings.ReplaceAll(s, "{tms_y}", strconv.Itoa(c.TMSY()))
	}

	return s
}

func probeLevel(client *http.Client, tiles []geo.TileCoordinate, urlTpl string) bool {
	// check start, middle and end for data at this zoom
	probes := []geo.TileCoordinate{}
	if len(tiles) > 0 {
		probes = append(probes, tiles[0])
	}
	if len(tiles) > 10 {
		probes = append(probes, tiles[len(tiles)/2])
	}
	if len(tiles) > 1 {
		probes = append(probes, tiles[len(tiles)-1])
	}

	for _, p := range probes {
		if checkTileExists(client, BuildURL(urlTpl, p)) {
			return true
		}
	}

	return false
}

func checkTileExists(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	body, _ := io.ReadAll(resp.Body)
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return false
	}

	return img.Bounds().Dx() > 1
}
