package loader

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageSizer estimates the resident size of a decoded image as 4 bytes per
// pixel.
func ImageSizer(img image.Image) int {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	return b.Dx() * b.Dy() * 4
}

// ImageDecoder decodes png, jpeg, gif, bmp, tiff and webp sources and scales
// them to the key's target size. A zero dimension follows the aspect ratio;
// both zero keeps the natural size.
var ImageDecoder = DecoderFunc[image.Image](decodeImage)

func decodeImage(r io.Reader, k Key) (image.Image, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("loader: decode %s: %w", k.URI, err)
	}
	w, h := targetSize(src.Bounds(), k.Width, k.Height)
	if w == src.Bounds().Dx() && h == src.Bounds().Dy() {
		return src, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

func targetSize(b image.Rectangle, w, h int) (int, int) {
	sw, sh := b.Dx(), b.Dy()
	switch {
	case sw == 0 || sh == 0:
		return sw, sh
	case w <= 0 && h <= 0:
		return sw, sh
	case w <= 0:
		w = max(1, sw*h/sh)
	case h <= 0:
		h = max(1, sh*w/sw)
	}
	return w, h
}
