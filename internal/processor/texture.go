package processor

import (
	"image"
	"image/draw"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
	xdraw "golang.org/x/image/draw"
)

// ExportGlobeTexture resamples an equirectangular image to width x width/2
// and writes it as WebP for the browser globe.
func ExportGlobeTexture(client *http.Client, source string, width int, outPath string, force bool) error {
	if !force {
		if info, err := os.Stat(outPath); err == nil && info.Size() > 0 {
			log.Debug().Str("path", outPath).Msg("Globe texture exists, skipping")
			return nil
		}
	}

	src, err := loadSourceImage(client, source)
	if err != nil {
		return err
	}

	dst := ResampleEquirectangular(src, width)
	if err := writeWebP(outPath, dst, 90); err != nil {
		return err
	}

	log.Info().
		Str("path", outPath).
		Int("width", dst.Bounds().Dx()).
		Int("height", dst.Bounds().Dy()).
		Msg("Globe texture written")

	return nil
}

// ResampleEquirectangular scales src to the 2:1 aspect a sphere UV map expects.
// A non-positive width keeps the source width.
func ResampleEquirectangular(src image.Image, width int) *image.RGBA {
	if width <= 0 {
		width = src.Bounds().Dx()
	}
	height := width / 2
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
