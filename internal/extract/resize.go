package extract

import (
	"image"
	stddraw "image/draw"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
)

// DecodeGray decodes an image and returns it as width-normalized
// grayscale pixels (row-major, one byte per pixel), per spec §4.1: if
// width exceeds targetWidth, scale down to targetWidth preserving
// aspect ratio; a narrower image is left at native resolution, never
// upscaled (query crops are typically narrower than originals, so
// width-normalization should only ever shrink, not grow, them).
// targetWidth <= 0 skips resizing.
func DecodeGray(r io.Reader, targetWidth int) ([]byte, int, int, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, 0, 0, err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if targetWidth > 0 && width > targetWidth {
		scaled := float64(targetWidth) / float64(width)
		newHeight := int(float64(height)*scaled + 0.5)
		dst := image.NewGray(image.Rect(0, 0, targetWidth, newHeight))
		draw.BiLinear.Scale(dst, dst.Bounds(), img, bounds, stddraw.Over, nil)
		return dst.Pix, targetWidth, newHeight, nil
	}

	gray := image.NewGray(bounds)
	stddraw.Draw(gray, bounds, img, bounds.Min, stddraw.Src)
	return gray.Pix, width, height, nil
}

// AspectRatio returns max(w,h)/min(w,h), used against Options.MaxAspectRatio.
func AspectRatio(width, height int) float64 {
	if width == 0 || height == 0 {
		return 0
	}
	w, h := float64(width), float64(height)
	if w > h {
		return w / h
	}
	return h / w
}

// grayAt is a helper used by the stub extractor to sample pixel intensity.
func grayAt(pix []byte, width, x, y int) uint8 {
	idx := y*width + x
	if idx < 0 || idx >= len(pix) {
		return 0
	}
	return pix[idx]
}
