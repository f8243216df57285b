// Package imageprocessor turns uploaded or base64 encoded photos into the RGB
// pixel grid consumed by the face verification capability.
package imageprocessor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Channels is the number of interleaved intensity values per pixel.
const Channels = 3

// Image is a decoded photo stored as row-major interleaved R, G, B bytes.
// Channel order is always RGB.
type Image struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewImage allocates a black grid of the given size.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]uint8, width*height*Channels)}
}

// ColorModel implements image.Image.
func (m *Image) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (m *Image) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

// At implements image.Image.
func (m *Image) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(m.Bounds())) {
		return color.RGBA{}
	}
	i := m.offset(x, y)
	return color.RGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 0xff}
}

// Set stores the RGB components of c at (x, y), dropping alpha.
func (m *Image) Set(x, y int, c color.NRGBA) {
	if !(image.Point{X: x, Y: y}.In(m.Bounds())) {
		return
	}
	i := m.offset(x, y)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = c.R, c.G, c.B
}

// Empty reports whether the grid carries no pixel data.
func (m *Image) Empty() bool {
	return m == nil || m.Width <= 0 || m.Height <= 0 || len(m.Pix) < m.Width*m.Height*Channels
}

func (m *Image) offset(x, y int) int {
	return (y*m.Width + x) * Channels
}

// Kind classifies why normalization failed.
type Kind string

const (
	KindUnsupportedInput Kind = "unsupported_input"
	KindDecode           Kind = "decode"
	KindEmpty            Kind = "empty"
)

var (
	ErrUnsupportedInput = errors.New("unsupported image input kind")
	ErrEmptyImage       = errors.New("image decoded to an empty grid")
	ErrImageTooLarge    = errors.New("image exceeds pixel limit")
)

// NormalizeError is the tagged failure returned by Normalize. Callers that
// only need "invalid image" can treat any non-nil error the same way.
type NormalizeError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *NormalizeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("normalize image (%s): %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NormalizeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf extracts the failure kind from err.
func KindOf(err error) (Kind, bool) {
	var nErr *NormalizeError
	if errors.As(err, &nErr) {
		return nErr.Kind, true
	}
	return "", false
}

func fail(kind Kind, err error) *NormalizeError {
	return &NormalizeError{Kind: kind, Err: err}
}
