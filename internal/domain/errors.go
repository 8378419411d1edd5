package domain

import (
	"errors"

	"github.com/dunamismax/pixelfx/internal/effect"
	"github.com/dunamismax/pixelfx/internal/pixel"
	"github.com/dunamismax/pixelfx/internal/storage"
)

// Request failure taxonomy. Permanent decides which of these end a job;
// ErrEncode is an output-side failure and stays retryable.
var (
	ErrDecode          = pixel.ErrDecode
	ErrEncode          = pixel.ErrEncode
	ErrInvalidStrength = effect.ErrInvalidStrength
	ErrUnknownEffect   = effect.ErrUnknownEffect

	ErrSourceMissing  = storage.ErrObjectNotFound
	ErrSourceTooLarge = storage.ErrObjectTooLarge

	ErrJobNotFound           = errors.New("job not found")
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
)

// Permanent reports whether err comes from the input itself rather than
// from infrastructure, so retrying cannot help.
func Permanent(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrInvalidStrength) ||
		errors.Is(err, ErrUnknownEffect) ||
		errors.Is(err, ErrSourceMissing) ||
		errors.Is(err, ErrSourceTooLarge) ||
		errors.Is(err, ErrUnsupportedSourceType)
}
