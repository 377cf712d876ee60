package model

import (
	"bytes"
	"image"
	"image/draw"

	// decoders for image.Decode
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/devblok/koruasset/asset"
)

// Texture is a decoded image. The format is sniffed from the data, not
// taken from the extension.
type Texture struct {
	asset.Base

	img    image.Image
	format string
}

// NewTexture is the factory for textures.
func NewTexture(name string) asset.Asset {
	return &Texture{Base: asset.NewBase(TextureType, name)}
}

// DeserializeFromBytes implements interface
func (t *Texture) DeserializeFromBytes(data []byte) ([]string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	t.img = img
	t.format = format
	t.SetLoaded(nil)
	return nil, nil
}

// Unload implements interface
func (t *Texture) Unload() {
	t.img = nil
	t.format = ""
	t.ClearLoaded()
}

// Image returns the decoded image.
func (t *Texture) Image() image.Image { return t.img }

// Format is the name of the decoder that read the image, e.g. "png".
func (t *Texture) Format() string { return t.format }

// Size returns the dimensions in pixels.
func (t *Texture) Size() (int, int) {
	if t.img == nil {
		return 0, 0
	}
	b := t.img.Bounds()
	return b.Dx(), b.Dy()
}

// Pixels returns the image as tightly packed 8 bit RGBA rows, the layout
// uploads to the GPU expect regardless of the source format.
func (t *Texture) Pixels() []uint8 {
	if t.img == nil {
		return nil
	}
	if rgba, ok := t.img.(*image.RGBA); ok && rgba.Stride == 4*rgba.Rect.Dx() {
		return rgba.Pix
	}
	rgba := image.NewRGBA(t.img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), t.img, t.img.Bounds().Min, draw.Src)
	return rgba.Pix
}
