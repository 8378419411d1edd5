package pixel

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrDecode = errors.New("decode error")
	ErrEncode = errors.New("encode error")
)

const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatWebP = "webp"

	defaultJPEGQuality = 90
)

// Decode turns encoded raster bytes into a buffer and reports the detected
// format. mimeHint is the caller-supplied media type and may be empty.
func Decode(data []byte, mimeHint string) (*Buffer, string, error) {
	if err := checkMimeHint(mimeHint); err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty input", ErrDecode)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		ext, extFormat, extErr := decodeExtended(data)
		if extErr != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
		}
		img, format = ext, extFormat
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, "", fmt.Errorf("%w: image has invalid dimensions %dx%d", ErrDecode, bounds.Dx(), bounds.Dy())
	}

	return FromImage(img), NormalizeFormat(format), nil
}

func checkMimeHint(mimeHint string) error {
	hint := strings.ToLower(strings.TrimSpace(mimeHint))
	if i := strings.IndexByte(hint, ';'); i >= 0 {
		hint = strings.TrimSpace(hint[:i])
	}
	switch {
	case hint == "", hint == "application/octet-stream", strings.HasPrefix(hint, "image/"):
		return nil
	default:
		return fmt.Errorf("%w: unsupported media type %q", ErrDecode, mimeHint)
	}
}

// Encode serializes buf. An empty format means png. quality only applies to
// lossy formats.
func Encode(buf *Buffer, format string, quality int) ([]byte, error) {
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if buf.Width == 0 || buf.Height == 0 {
		return nil, fmt.Errorf("%w: cannot encode empty %dx%d image", ErrEncode, buf.Width, buf.Height)
	}

	var out bytes.Buffer
	switch NormalizeFormat(format) {
	case FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&out, buf.Image()); err != nil {
			return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
		}
	case FormatJPEG:
		if quality <= 0 || quality > 100 {
			quality = defaultJPEGQuality
		}
		if err := jpeg.Encode(&out, buf.Image(), &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("%w: jpeg: %v", ErrEncode, err)
		}
	case FormatWebP:
		data, err := encodeWebP(buf, quality)
		if err != nil {
			return nil, fmt.Errorf("%w: webp: %v", ErrEncode, err)
		}
		return data, nil
	}

	return out.Bytes(), nil
}

// NormalizeFormat maps format aliases to png, jpeg or webp. Anything
// unrecognized becomes png.
func NormalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpg", "jpeg":
		return FormatJPEG
	case "webp":
		return FormatWebP
	default:
		return FormatPNG
	}
}

func ContentType(format string) string {
	switch NormalizeFormat(format) {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Extension returns the file extension (without dot) for format.
func Extension(format string) string {
	switch NormalizeFormat(format) {
	case FormatJPEG:
		return "jpg"
	case FormatWebP:
		return "webp"
	default:
		return "png"
	}
}
