//go:build govips && cgo

package pixel

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func WebPSupported() bool {
	return true
}

// decodeExtended lets libvips read formats the Go decoders do not cover
// (HEIF, AVIF, TIFF, ...).
func decodeExtended(data []byte) (image.Image, string, error) {
	if err := Startup(); err != nil {
		return nil, "", err
	}

	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, "", fmt.Errorf("vips load: %w", err)
	}
	defer ref.Close()

	img, err := ref.ToImage(vips.NewDefaultExportParams())
	if err != nil {
		return nil, "", fmt.Errorf("vips to image: %w", err)
	}

	format := vips.ImageTypes[ref.Format()]
	return img, format, nil
}

func encodeWebP(buf *Buffer, quality int) ([]byte, error) {
	if err := Startup(); err != nil {
		return nil, err
	}

	var lossless bytes.Buffer
	if err := png.Encode(&lossless, buf.Image()); err != nil {
		return nil, fmt.Errorf("stage png: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(lossless.Bytes())
	if err != nil {
		return nil, fmt.Errorf("vips load: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	if quality > 0 && quality <= 100 {
		params.Quality = quality
	} else {
		params.Lossless = true
	}

	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return nil, fmt.Errorf("vips export: %w", err)
	}
	return data, nil
}
