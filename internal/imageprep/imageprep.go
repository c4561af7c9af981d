// Package imageprep shrinks oversized photos before they are encoded
// for delivery.
package imageprep

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// Downscaler limits the long edge of JPEG and PNG images. Each image is
// re-encoded in its own format so the file name stays accurate. Other
// files pass through untouched.
type Downscaler struct {
	// MaxDimension is the longest allowed edge in pixels. Zero disables
	// downscaling.
	MaxDimension int

	// Quality is the JPEG quality, 1-100.
	Quality int
}

type format int

const (
	formatOther format = iota
	formatJPEG
	formatPNG
)

func formatOf(name string) format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return formatJPEG
	case ".png":
		return formatPNG
	default:
		return formatOther
	}
}

// Prepare returns data unchanged when no scaling is needed, or the
// scaled and re-encoded image otherwise.
func (d Downscaler) Prepare(name string, data []byte) ([]byte, error) {
	f := formatOf(name)
	if d.MaxDimension <= 0 || f == formatOther {
		return data, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading image header: %w", err)
	}

	w, h := fit(cfg.Width, cfg.Height, d.MaxDimension)
	if w == cfg.Width && h == cfg.Height {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)

	var out bytes.Buffer

	switch f {
	case formatJPEG:
		err = jpeg.Encode(&out, dst, &jpeg.Options{Quality: d.quality()})
	case formatPNG:
		err = png.Encode(&out, dst)
	}

	if err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}

	return out.Bytes(), nil
}

func (d Downscaler) quality() int {
	if d.Quality < 1 || d.Quality > 100 {
		return jpeg.DefaultQuality
	}

	return d.Quality
}

// fit scales (w, h) so the long edge is at most limit, keeping the
// aspect ratio. Dimensions never drop below one pixel.
func fit(w, h, limit int) (int, int) {
	long := max(w, h)
	if long <= limit {
		return w, h
	}

	nw := max(1, w*limit/long)
	nh := max(1, h*limit/long)

	return nw, nh
}
