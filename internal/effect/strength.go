package effect

import (
	"errors"
	"fmt"
)

var ErrInvalidStrength = errors.New("invalid strength")

const (
	MinStrength     = 0
	MaxStrength     = 100
	DefaultStrength = 50
)

func ValidateStrength(strength int) error {
	if strength < MinStrength || strength > MaxStrength {
		return fmt.Errorf("%w: %d is outside [%d,%d]", ErrInvalidStrength, strength, MinStrength, MaxStrength)
	}
	return nil
}

// Intensity normalizes a validated strength to [0,1].
func Intensity(strength int) float64 {
	return float64(strength) / 100
}
