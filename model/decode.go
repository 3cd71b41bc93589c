package model

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/cockroachdb/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Texture is a decoded image as tightly packed RGBA8 rows.
type Texture struct {
	Width  int
	Height int
	Pixels []byte
}

// ImageDecoder turns a texture file into pixels.
type ImageDecoder interface {
	Decode(path string) (*Texture, error)
}

// FileDecoder decodes PNG, JPEG, GIF, BMP, TIFF and WebP files from disk.
type FileDecoder struct{}

func (FileDecoder) Decode(path string) (*Texture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open texture")
	}
	defer file.Close()

	decoded, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	return FromImage(decoded), nil
}

// FromImage converts any image into a Texture. Colours are not premultiplied.
func FromImage(img image.Image) *Texture {
	bounds := img.Bounds()

	rgba, ok := img.(*image.NRGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 || bounds.Min != (image.Point{}) {
		rgba = image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	return &Texture{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pixels: rgba.Pix,
	}
}
