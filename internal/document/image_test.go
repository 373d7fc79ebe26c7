package document

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeRGB(t *testing.T) {
	t.Run("transparent pixels become white", func(t *testing.T) {
		src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
		src.Set(1, 1, color.NRGBA{R: 0, G: 0, B: 0, A: 255})

		out, err := NormalizeRGB(encodePNG(t, src))
		require.NoError(t, err)

		decoded, err := png.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 4, 4), decoded.Bounds())

		r, g, b, a := decoded.At(0, 0).RGBA()
		assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff, 0xffff}, []uint32{r, g, b, a})
		r, g, b, _ = decoded.At(1, 1).RGBA()
		assert.Equal(t, []uint32{0, 0, 0}, []uint32{r, g, b})
	})

	t.Run("jpeg input", func(t *testing.T) {
		src := image.NewGray(image.Rect(0, 0, 8, 8))
		var buf bytes.Buffer
		require.NoError(t, jpeg.Encode(&buf, src, nil))

		out, err := NormalizeRGB(buf.Bytes())
		require.NoError(t, err)
		_, format, err := image.DecodeConfig(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, "png", format)
	})

	t.Run("oversized image is scaled down", func(t *testing.T) {
		src := image.NewRGBA(image.Rect(0, 0, MaxImageSide*2, 10))
		out, err := NormalizeRGB(encodePNG(t, src))
		require.NoError(t, err)

		cfg, err := png.DecodeConfig(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, MaxImageSide, cfg.Width)
		assert.Equal(t, 5, cfg.Height)
	})

	t.Run("undecodable data", func(t *testing.T) {
		_, err := NormalizeRGB([]byte("not an image"))
		assert.Error(t, err)
	})
}
