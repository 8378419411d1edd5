//go:build !govips || !cgo

package pixel

import (
	"errors"
	"image"
)

func Startup() error {
	return nil
}

func Shutdown() {}

// WebPSupported reports whether Encode can produce webp output.
func WebPSupported() bool {
	return false
}

func decodeExtended(_ []byte) (image.Image, string, error) {
	return nil, "", errors.New("no extended decoder available")
}

func encodeWebP(_ *Buffer, _ int) ([]byte, error) {
	return nil, errors.New("webp export requires govips build tag")
}
