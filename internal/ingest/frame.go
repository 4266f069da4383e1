package ingest

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/clipvault/clipvault/internal/errors"
)

// MaxFrameDimension bounds each side of a Frame so the buffer size fits in an int.
const MaxFrameDimension = 1 << 15

// Frame is a raw captured bitmap: Width*Height pixels of non-premultiplied
// RGBA, row-major, four bytes per pixel.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// Validate checks that the buffer matches the dimensions.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return errors.Newf("frame dimensions must be positive, got %dx%d", f.Width, f.Height).
			Component("ingest").
			Category(errors.CategoryValidation).
			Build()
	}
	if f.Width > MaxFrameDimension || f.Height > MaxFrameDimension {
		return errors.Newf("frame dimensions %dx%d exceed %d", f.Width, f.Height, MaxFrameDimension).
			Component("ingest").
			Category(errors.CategoryValidation).
			Build()
	}
	if want := int64(f.Width) * int64(f.Height) * 4; int64(len(f.Pix)) != want {
		return errors.Newf("frame buffer has %d bytes, want %d for %dx%d", len(f.Pix), want, f.Width, f.Height).
			Component("ingest").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// Image wraps the frame without copying.
func (f Frame) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// FrameFromImage converts any image to a Frame.
func FrameFromImage(img image.Image) Frame {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	return Frame{Width: b.Dx(), Height: b.Dy(), Pix: nrgba.Pix}
}

// DecodeBytes decodes an encoded image file, honoring EXIF orientation.
// Non-image payloads are rejected before decoding.
func DecodeBytes(data []byte) (Frame, error) {
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return Frame{}, errors.Newf("unsupported content type %s", mtype.String()).
			Component("ingest").
			Category(errors.CategoryValidation).
			Context("mime", mtype.String()).
			Build()
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Frame{}, errors.New(fmt.Errorf("decode %s: %w", mtype.String(), err)).
			Component("ingest").
			Category(errors.CategoryImageProcessing).
			Context("mime", mtype.String()).
			Build()
	}
	return FrameFromImage(img), nil
}

// DecodeFile reads and decodes the image at path.
func DecodeFile(path string) (Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, errors.New(err).
			Component("ingest").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	frame, err := DecodeBytes(data)
	if err != nil {
		return Frame{}, fmt.Errorf("%s: %w", path, err)
	}
	return frame, nil
}
