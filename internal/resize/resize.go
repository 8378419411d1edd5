// Package resize bounds images to a display envelope before effects run.
package resize

import (
	"github.com/dunamismax/pixelfx/internal/pixel"
)

const (
	DefaultMaxWidth  = 800
	DefaultMaxHeight = 600
)

// Fit shrinks (width, height) into maxWidth x maxHeight keeping the aspect
// ratio. The width bound is applied first and the height bound second, on
// the already scaled values; taking the smaller of the two scale factors
// gives the same answer only when the first step leaves height in bounds.
// Non-positive bounds fall back to the defaults. The result is truncated
// and never smaller than 1x1.
func Fit(width, height, maxWidth, maxHeight int) (int, int) {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}
	if width <= 0 || height <= 0 {
		return max(width, 0), max(height, 0)
	}

	w, h := float64(width), float64(height)
	if w > float64(maxWidth) {
		h = h * float64(maxWidth) / w
		w = float64(maxWidth)
	}
	if h > float64(maxHeight) {
		w = w * float64(maxHeight) / h
		h = float64(maxHeight)
	}

	return max(int(w), 1), max(int(h), 1)
}

// Policy is a pair of display bounds plus the resampling filter used to
// reach them.
type Policy struct {
	MaxWidth  int
	MaxHeight int
	Filter    Filter
}

func DefaultPolicy() Policy {
	return Policy{MaxWidth: DefaultMaxWidth, MaxHeight: DefaultMaxHeight, Filter: Bilinear}
}

func (p Policy) Fit(width, height int) (int, int) {
	return Fit(width, height, p.MaxWidth, p.MaxHeight)
}

// Apply returns buf resampled to fit the policy. The input is not modified.
func (p Policy) Apply(buf *pixel.Buffer) *pixel.Buffer {
	w, h := p.Fit(buf.Width, buf.Height)
	return p.Filter.Resample(buf, w, h)
}

// Resample scales buf to width x height with bilinear filtering.
func Resample(buf *pixel.Buffer, width, height int) *pixel.Buffer {
	return Bilinear.Resample(buf, width, height)
}
