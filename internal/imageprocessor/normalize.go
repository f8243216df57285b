package imageprocessor

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxPixels caps the decoded grid size when no limit is configured.
const DefaultMaxPixels = 40_000_000

// Normalizer decodes raw photo input into an RGB Image.
type Normalizer struct {
	maxPixels int
}

// NewNormalizer returns a Normalizer rejecting images larger than maxPixels.
// A non-positive maxPixels selects DefaultMaxPixels.
func NewNormalizer(maxPixels int) *Normalizer {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Normalizer{maxPixels: maxPixels}
}

// Normalize accepts an encoded image as []byte or io.Reader, or as base64
// text optionally carrying a data URI header. Every other input kind fails
// with KindUnsupportedInput. Normalize never panics.
func (n *Normalizer) Normalize(src any) (img *Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fail(KindDecode, fmt.Errorf("decoder panic: %v", r))
		}
	}()

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data, err = DecodeBase64Image(v)
		if err != nil {
			return nil, fail(KindDecode, err)
		}
	case io.Reader:
		data, err = io.ReadAll(v)
		if err != nil {
			return nil, fail(KindDecode, fmt.Errorf("read image stream: %w", err))
		}
	default:
		return nil, fail(KindUnsupportedInput, fmt.Errorf("%w: %T", ErrUnsupportedInput, src))
	}
	return n.decode(data)
}

func (n *Normalizer) decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fail(KindEmpty, ErrEmptyImage)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fail(KindDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fail(KindEmpty, ErrEmptyImage)
	}
	if cfg.Width*cfg.Height > n.maxPixels {
		return nil, fail(KindDecode, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height))
	}

	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fail(KindDecode, err)
	}

	out := toRGB(decoded)
	if out.Empty() {
		return nil, fail(KindEmpty, ErrEmptyImage)
	}
	return out, nil
}

// DecodeBase64Image strips an optional "<media header>," prefix and decodes
// the remaining base64 payload. Whitespace, missing padding and the URL safe
// alphabet are tolerated.
func DecodeBase64Image(text string) ([]byte, error) {
	payload := StripDataURIPrefix(text)
	payload = strings.Join(strings.Fields(payload), "")
	payload = strings.TrimRight(payload, "=")

	enc := base64.RawStdEncoding
	if strings.ContainsAny(payload, "-_") {
		enc = base64.RawURLEncoding
	}
	data, err := enc.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	return data, nil
}

// StripDataURIPrefix drops everything up to and including the first comma.
func StripDataURIPrefix(text string) string {
	if _, payload, ok := strings.Cut(text, ","); ok {
		return payload
	}
	return text
}

func toRGB(src image.Image) *Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy())
	if out.Width <= 0 || out.Height <= 0 {
		return out
	}

	switch m := src.(type) {
	case *image.NRGBA:
		for y := 0; y < out.Height; y++ {
			row := m.Pix[(y+b.Min.Y-m.Rect.Min.Y)*m.Stride:]
			for x := 0; x < out.Width; x++ {
				si := (x + b.Min.X - m.Rect.Min.X) * 4
				di := out.offset(x, y)
				copy(out.Pix[di:di+Channels], row[si:si+Channels])
			}
		}
	case *image.YCbCr:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				c := m.YCbCrAt(x+b.Min.X, y+b.Min.Y)
				r, g, bl := color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
				di := out.offset(x, y)
				out.Pix[di], out.Pix[di+1], out.Pix[di+2] = r, g, bl
			}
		}
	default:
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				c := color.NRGBAModel.Convert(src.At(x+b.Min.X, y+b.Min.Y)).(color.NRGBA)
				out.Set(x, y, c)
			}
		}
	}
	return out
}
