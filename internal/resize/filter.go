package resize

import (
	"fmt"
	"image"
	"strings"

	"github.com/anthonynsimon/bild/transform"
	xdraw "golang.org/x/image/draw"

	"github.com/dunamismax/pixelfx/internal/pixel"
)

// Filter names a resampling kernel.
type Filter string

const (
	Bilinear   Filter = "bilinear"
	CatmullRom Filter = "catmullrom"
	Nearest    Filter = "nearest"
	Box        Filter = "box"
	Lanczos    Filter = "lanczos"
)

func ParseFilter(name string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return Bilinear, nil
	case Bilinear, CatmullRom, Nearest, Box, Lanczos:
		return f, nil
	default:
		return "", fmt.Errorf("unknown resample filter %q", name)
	}
}

func (f Filter) String() string {
	if f == "" {
		return string(Bilinear)
	}
	return string(f)
}

// Resample scales buf to width x height. Same-size requests return a copy
// and the input is never modified.
func (f Filter) Resample(buf *pixel.Buffer, width, height int) *pixel.Buffer {
	if width == buf.Width && height == buf.Height {
		return buf.Clone()
	}
	if width == 0 || height == 0 || buf.Width == 0 || buf.Height == 0 {
		return pixel.New(width, height)
	}

	switch f {
	case Box:
		return pixel.FromImage(transform.Resize(buf.Image(), width, height, transform.Box))
	case Lanczos:
		return pixel.FromImage(transform.Resize(buf.Image(), width, height, transform.Lanczos))
	}

	dst := pixel.New(width, height)
	f.interpolator().Scale(dst.Image(), image.Rect(0, 0, width, height), buf.Image(), image.Rect(0, 0, buf.Width, buf.Height), xdraw.Src, nil)
	return dst
}

func (f Filter) interpolator() xdraw.Interpolator {
	switch f {
	case CatmullRom:
		return xdraw.CatmullRom
	case Nearest:
		return xdraw.NearestNeighbor
	default:
		return xdraw.BiLinear
	}
}
