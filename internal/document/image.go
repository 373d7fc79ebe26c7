package document

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// MaxImageSide 导出图片的最长边，超过时等比缩小
const MaxImageSide = 4096

// NormalizeRGB 解码任意支持的图片格式，统一转换为不透明RGB的PNG
// CMYK、带透明通道的灰度图等都会被铺到白色背景上
func NormalizeRGB(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("image has no pixels")
	}

	dstRect := image.Rect(0, 0, bounds.Dx(), bounds.Dy())
	if longest := max(bounds.Dx(), bounds.Dy()); longest > MaxImageSide {
		scale := float64(MaxImageSide) / float64(longest)
		dstRect = image.Rect(0, 0, max(1, int(float64(bounds.Dx())*scale)), max(1, int(float64(bounds.Dy())*scale)))
	}

	dst := image.NewRGBA(dstRect)
	draw.Draw(dst, dstRect, image.NewUniform(color.White), image.Point{}, draw.Src)
	if dstRect.Dx() == bounds.Dx() && dstRect.Dy() == bounds.Dy() {
		draw.Draw(dst, dstRect, src, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dstRect, src, bounds, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
