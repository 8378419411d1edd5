package pixel

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int, alpha func(x, y int) uint8) *Buffer {
	buf := New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf.Set(x, y, uint8((x*255)/w), uint8((y*255)/h), 140, alpha(x, y))
		}
	}
	return buf
}

func TestBufferValidate(t *testing.T) {
	require.NoError(t, New(3, 2).Validate())

	_, err := FromPix(2, 2, make([]uint8, 15))
	require.ErrorIs(t, err, ErrInvalidBuffer)

	var nilBuf *Buffer
	require.ErrorIs(t, nilBuf.Validate(), ErrInvalidBuffer)
}

func TestBufferCloneIsIndependent(t *testing.T) {
	buf := New(1, 1)
	buf.Set(0, 0, 1, 2, 3, 4)

	clone := buf.Clone()
	clone.Set(0, 0, 9, 9, 9, 9)

	r, g, b, a := buf.At(0, 0)
	assert.Equal(t, []uint8{1, 2, 3, 4}, []uint8{r, g, b, a})
	assert.False(t, buf.Equal(clone))
}

func TestFromImageOffsetBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(5, 5, 7, 6))
	src.Set(5, 5, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	src.Set(6, 5, color.RGBA{R: 40, G: 50, B: 60, A: 255})

	buf := FromImage(src)
	require.Equal(t, 2, buf.Width)
	require.Equal(t, 1, buf.Height)
	assert.Equal(t, []uint8{10, 20, 30, 255, 40, 50, 60, 255}, buf.Pix)
}

func TestPNGRoundTripOpaque(t *testing.T) {
	buf := gradient(31, 17, func(int, int) uint8 { return 255 })

	data, err := Encode(buf, FormatPNG, 0)
	require.NoError(t, err)

	decoded, format, err := Decode(data, "image/png")
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, format)
	assert.True(t, buf.Equal(decoded), "opaque png round trip must be bit exact")
}

func TestPNGRoundTripTranslucent(t *testing.T) {
	buf := gradient(16, 9, func(x, y int) uint8 { return uint8((x * 16) + y) })
	buf.Set(0, 0, 200, 100, 50, 0)

	data, err := Encode(buf, "", 0)
	require.NoError(t, err)

	decoded, _, err := Decode(data, "")
	require.NoError(t, err)
	assert.True(t, buf.Equal(decoded), "translucent png round trip must be bit exact")
}

func TestDecodeJPEG(t *testing.T) {
	var src bytes.Buffer
	require.NoError(t, jpeg.Encode(&src, image.NewGray(image.Rect(0, 0, 8, 4)), nil))

	buf, format, err := Decode(src.Bytes(), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, format)
	assert.Equal(t, 8, buf.Width)
	assert.Equal(t, 4, buf.Height)
}

func TestDecodeErrors(t *testing.T) {
	valid, err := Encode(New(2, 2), FormatPNG, 0)
	require.NoError(t, err)

	cases := map[string]struct {
		data []byte
		hint string
	}{
		"empty":       {data: nil},
		"garbage":     {data: []byte("definitely not an image")},
		"truncated":   {data: valid[:len(valid)/2]},
		"non-image":   {data: valid, hint: "text/plain"},
		"json upload": {data: valid, hint: "application/json; charset=utf-8"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode(tc.data, tc.hint)
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encode(&Buffer{Width: 2, Height: 2, Pix: make([]uint8, 3)}, FormatPNG, 0)
	require.ErrorIs(t, err, ErrEncode)

	_, err = Encode(New(0, 0), FormatPNG, 0)
	require.ErrorIs(t, err, ErrEncode)

	if !WebPSupported() {
		_, err = Encode(New(1, 1), FormatWebP, 0)
		require.ErrorIs(t, err, ErrEncode)
	}
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, FormatJPEG, NormalizeFormat("JPG"))
	assert.Equal(t, FormatPNG, NormalizeFormat("tiff"))
	assert.Equal(t, "image/webp", ContentType("webp"))
	assert.Equal(t, "jpg", Extension("jpeg"))
}
