// Package effect implements the per-pixel tone transforms.
//
// All arithmetic runs in float64 on the 0-255 scale, exactly in the order
// the transforms are written below. Results are rounded to the nearest
// integer, ties toward negative infinity, before they are stored. Most
// channels saturate to [0,255]; Futuristic and Dreamscape store without
// clamping and wrap modulo 256.
package effect

import (
	"context"
	"fmt"
	"math"

	"github.com/dunamismax/pixelfx/internal/pixel"
)

// Result is a transformed buffer and the kind that produced it.
type Result struct {
	Buffer *pixel.Buffer
	Kind   Kind
}

// transform maps one pixel's colour channels; alpha never reaches it.
type transform func(r, g, b, intensity float64) (uint8, uint8, uint8)

var transforms = [numKinds]transform{
	Enhance:      enhance,
	Futuristic:   futuristic,
	Cinematic:    cinematic,
	IdentityPlus: identityPlus,
	Dreamscape:   dreamscape,
	HyperReal:    hyperReal,
}

// rowsPerCheck bounds how much work runs between cancellation checks.
const rowsPerCheck = 16

// Lookup reports ErrUnknownEffect for kinds outside the closed set.
func Lookup(kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownEffect, uint8(kind))
	}
	return nil
}

// Apply transforms a copy of buf. intensity must already be in [0,1]. A kind
// outside the closed set yields an unchanged copy; use Lookup or
// ApplyContext to surface that as an error.
func Apply(buf *pixel.Buffer, kind Kind, intensity float64) Result {
	out := buf.Clone()
	if kind.Valid() && intensity != 0 {
		stride := out.Stride()
		for y := 0; y < out.Height; y++ {
			transformRow(out.Pix[y*stride : (y+1)*stride : (y+1)*stride], transforms[kind], intensity)
		}
	}
	return Result{Buffer: out, Kind: kind}
}

// ApplyContext is Apply with validation and whole-image cancellation. On
// error no buffer is returned.
func ApplyContext(ctx context.Context, buf *pixel.Buffer, kind Kind, intensity float64) (Result, error) {
	if err := Lookup(kind); err != nil {
		return Result{}, err
	}
	if err := buf.Validate(); err != nil {
		return Result{}, err
	}
	if math.IsNaN(intensity) || intensity < 0 || intensity > 1 {
		return Result{}, fmt.Errorf("%w: intensity %v is outside [0,1]", ErrInvalidStrength, intensity)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	out := buf.Clone()
	if intensity == 0 {
		return Result{Buffer: out, Kind: kind}, nil
	}
	if err := run(ctx, out, transforms[kind], intensity); err != nil {
		return Result{}, err
	}
	return Result{Buffer: out, Kind: kind}, nil
}

func run(ctx context.Context, buf *pixel.Buffer, fn transform, intensity float64) error {
	stride := buf.Stride()
	for y := 0; y < buf.Height; y++ {
		if y%rowsPerCheck == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		transformRow(buf.Pix[y*stride : (y+1)*stride : (y+1)*stride], fn, intensity)
	}
	return nil
}

func transformRow(row []uint8, fn transform, intensity float64) {
	for i := 0; i < len(row); i += 4 {
		p := row[i : i+3 : i+3]
		p[0], p[1], p[2] = fn(float64(p[0]), float64(p[1]), float64(p[2]), intensity)
	}
}

func enhance(r, g, b, intensity float64) (uint8, uint8, uint8) {
	return clamp(r * (1 + 0.3*intensity)),
		clamp(g * (1 + 0.3*intensity)),
		clamp(b * (1 + 0.3*intensity))
}

func futuristic(r, g, b, intensity float64) (uint8, uint8, uint8) {
	avg := (r + g + b) / 3
	return wrap(avg + (r-avg)*1.5*intensity + 30*intensity),
		wrap(avg + (g-avg)*1.2*intensity + 50*intensity),
		wrap(avg + (b-avg)*1.8*intensity + 80*intensity)
}

func cinematic(r, g, b, intensity float64) (uint8, uint8, uint8) {
	return clamp(r * (1 + 0.2*intensity)),
		clamp(g * (1 + 0.1*intensity)),
		clamp(b * (1 - 0.1*intensity))
}

// identityPlus only touches pixels that pass a rough skin-tone test.
func identityPlus(r, g, b, intensity float64) (uint8, uint8, uint8) {
	if !(r > 95 && g > 40 && b > 20 && r > g && r > b) {
		return uint8(r), uint8(g), uint8(b)
	}
	return clamp(r * (1 + 0.15*intensity)),
		clamp(g * (1 + 0.1*intensity)),
		clamp(b * (1 + 0.05*intensity))
}

func dreamscape(r, g, b, intensity float64) (uint8, uint8, uint8) {
	brightness := (r + g + b) / 3
	factor := 0.3 * intensity
	return wrap(r*(1-factor) + brightness*factor + 20*intensity),
		wrap(g*(1-factor) + brightness*factor + 30*intensity),
		wrap(b*(1-factor) + brightness*factor + 50*intensity)
}

func hyperReal(r, g, b, intensity float64) (uint8, uint8, uint8) {
	avg := (r + g + b) / 3
	return clamp(avg + (r-avg)*(1+intensity)),
		clamp(avg + (g-avg)*(1+intensity)),
		clamp(avg + (b-avg)*(1+intensity))
}

func round(v float64) float64 {
	return math.Ceil(v - 0.5)
}

func clamp(v float64) uint8 {
	v = round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// wrap stores v into a byte the way an unchecked 8-bit assignment does.
func wrap(v float64) uint8 {
	return uint8(int64(round(v)))
}
