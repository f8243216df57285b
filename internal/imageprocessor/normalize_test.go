package imageprocessor

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"pgregory.net/rapid"
)

type fatalHelper interface {
	Helper()
	Fatalf(format string, args ...any)
}

func encodePNG(t fatalHelper, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func twoPixelImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 0, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 0, G: 0, B: 255, A: 255})
	return img
}

func TestNormalizeBytesKeepsRGBOrder(t *testing.T) {
	n := NewNormalizer(0)

	out, err := n.Normalize(encodePNG(t, twoPixelImage()))
	require.NoError(t, err)

	assert.Equal(t, 2, out.Width)
	assert.Equal(t, 1, out.Height)
	assert.Equal(t, []uint8{255, 0, 0, 0, 0, 255}, out.Pix)
}

func TestNormalizeReader(t *testing.T) {
	n := NewNormalizer(0)

	out, err := n.Normalize(bytes.NewReader(encodePNG(t, twoPixelImage())))
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 0, 0, 0, 0, 255}, out.Pix)
}

func TestNormalizeBase64WithAndWithoutPrefix(t *testing.T) {
	n := NewNormalizer(0)
	payload := base64.StdEncoding.EncodeToString(encodePNG(t, twoPixelImage()))

	plain, err := n.Normalize(payload)
	require.NoError(t, err)
	prefixed, err := n.Normalize("data:image/png;base64," + payload)
	require.NoError(t, err)

	assert.Equal(t, plain, prefixed)
}

func TestNormalizeBase64Tolerance(t *testing.T) {
	n := NewNormalizer(0)
	raw := encodePNG(t, twoPixelImage())

	unpadded := base64.RawURLEncoding.EncodeToString(raw)
	out, err := n.Normalize(unpadded)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Width)

	wrapped := base64.StdEncoding.EncodeToString(raw)
	wrapped = "  " + wrapped[:10] + "\n" + wrapped[10:] + "\n"
	out, err = n.Normalize(wrapped)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Width)
}

func TestNormalizeDropsAlphaWithoutPremultiplying(t *testing.T) {
	n := NewNormalizer(0)
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 10})

	out, err := n.Normalize(encodePNG(t, img))
	require.NoError(t, err)
	assert.Equal(t, []uint8{200, 100, 50}, out.Pix)
}

func TestNormalizeGrayReplicatesChannels(t *testing.T) {
	n := NewNormalizer(0)
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	img.SetGray(0, 0, color.Gray{Y: 77})

	out, err := n.Normalize(encodePNG(t, img))
	require.NoError(t, err)
	assert.Equal(t, []uint8{77, 77, 77}, out.Pix)
}

func TestNormalizeDecodesBMPAndJPEG(t *testing.T) {
	n := NewNormalizer(0)

	var bmpBuf bytes.Buffer
	require.NoError(t, bmp.Encode(&bmpBuf, twoPixelImage()))
	out, err := n.Normalize(bmpBuf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []uint8{255, 0, 0, 0, 0, 255}, out.Pix)

	solid := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			solid.SetNRGBA(x, y, color.NRGBA{R: 250, G: 10, B: 10, A: 255})
		}
	}
	var jpgBuf bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpgBuf, solid, &jpeg.Options{Quality: 95}))
	out, err = n.Normalize(jpgBuf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 16, out.Width)
	assert.Greater(t, int(out.Pix[0]), 200, "red channel must come first")
	assert.Less(t, int(out.Pix[2]), 60, "blue channel must come last")
}

func TestNormalizeFailureKinds(t *testing.T) {
	n := NewNormalizer(0)

	cases := []struct {
		name  string
		input any
		kind  Kind
	}{
		{name: "nil", input: nil, kind: KindUnsupportedInput},
		{name: "number", input: 42.0, kind: KindUnsupportedInput},
		{name: "object", input: map[string]any{"a": 1}, kind: KindUnsupportedInput},
		{name: "empty bytes", input: []byte{}, kind: KindEmpty},
		{name: "corrupt bytes", input: []byte("definitely not an image"), kind: KindDecode},
		{name: "bad base64", input: "data:image/png;base64,@@@", kind: KindDecode},
		{name: "base64 of garbage", input: base64.StdEncoding.EncodeToString([]byte("garbage")), kind: KindDecode},
		{name: "empty text", input: "", kind: KindEmpty},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := n.Normalize(tc.input)
			require.Error(t, err)
			assert.Nil(t, out)
			kind, ok := KindOf(err)
			require.True(t, ok, "expected NormalizeError, got %T", err)
			assert.Equal(t, tc.kind, kind)
		})
	}
}

func TestNormalizeRejectsOversizedImage(t *testing.T) {
	n := NewNormalizer(4)
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))

	_, err := n.Normalize(encodePNG(t, img))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrImageTooLarge))
}

func TestImageImplementsImage(t *testing.T) {
	src := NewImage(2, 1)
	src.Set(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 255})
	src.Set(1, 0, color.NRGBA{R: 4, G: 5, B: 6, A: 255})

	out, err := NewNormalizer(0).Normalize(encodePNG(t, src))
	require.NoError(t, err)
	assert.Equal(t, src.Pix, out.Pix)
	assert.Equal(t, color.RGBA{}, src.At(5, 5))
}

func TestStripDataURIPrefix(t *testing.T) {
	assert.Equal(t, "abc", StripDataURIPrefix("data:image/jpeg;base64,abc"))
	assert.Equal(t, "abc", StripDataURIPrefix("abc"))
	assert.Equal(t, "a,b", StripDataURIPrefix("x,a,b"))
}

func TestPrefixStrippingIsLossless(t *testing.T) {
	n := NewNormalizer(0)
	rapid.Check(t, func(rt *rapid.T) {
		w := rapid.IntRange(1, 6).Draw(rt, "width")
		h := rapid.IntRange(1, 6).Draw(rt, "height")
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for i := range img.Pix {
			img.Pix[i] = uint8(rapid.IntRange(0, 255).Draw(rt, "px"))
		}
		for i := 3; i < len(img.Pix); i += 4 {
			img.Pix[i] = 255
		}
		payload := base64.StdEncoding.EncodeToString(encodePNG(rt, img))
		mediaType := rapid.SampledFrom([]string{"image/png", "image/jpeg", "application/octet-stream"}).Draw(rt, "media")

		plain, err := n.Normalize(payload)
		if err != nil {
			rt.Fatalf("plain normalize failed: %v", err)
		}
		prefixed, err := n.Normalize("data:" + mediaType + ";base64," + payload)
		if err != nil {
			rt.Fatalf("prefixed normalize failed: %v", err)
		}
		if !bytes.Equal(plain.Pix, prefixed.Pix) || plain.Width != prefixed.Width || plain.Height != prefixed.Height {
			rt.Fatalf("prefix changed the decoded grid")
		}
		if strings.Contains(StripDataURIPrefix(payload), ",") {
			rt.Fatalf("payload unexpectedly contains a comma")
		}
	})
}
