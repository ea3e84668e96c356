package watermark

import (
	"bytes"
	"image"
	"image/color"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noisy returns a w×h image filled with deterministic pseudo-random pixels.
func noisy(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	rng := rand.New(rand.NewSource(42))
	rng.Read(img.Pix)
	return img
}

func clone(img *image.NRGBA) *image.NRGBA {
	c := *img
	c.Pix = bytes.Clone(img.Pix)
	return &c
}

func TestPayload(t *testing.T) {
	assert.Equal(t, []byte("WMSKhi\x00"), Payload("hi"))
	assert.Equal(t, []byte("WMSK\x00"), Payload(""))
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		text string
	}{
		{"hello", 10, 10, "hello"},
		{"exact fit", 10, 8, "hello"}, // (4+5+1)*8 = 80 bits
		{"unicode", 40, 40, "provenance ✓ 日本語"},
		{"descriptor", 200, 100, "run-42 | 2025-01-02 03:04:05 | HTML | Wait:load"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := noisy(tt.w, tt.h)
			require.True(t, Fits(img, tt.text))
			got, ok := Extract(Embed(img, tt.text))
			require.True(t, ok)
			assert.Equal(t, tt.text, got)
		})
	}
}

func TestEmbed_OnlyTouchesBlueLSB(t *testing.T) {
	img := noisy(32, 32)
	orig := clone(img)

	Embed(img, "hello")

	for i := 0; i < len(img.Pix); i++ {
		if i%4 == blueOffset {
			assert.Equal(t, orig.Pix[i]&0xFE, img.Pix[i]&0xFE, "blue high bits changed at %d", i)
			continue
		}
		assert.Equal(t, orig.Pix[i], img.Pix[i], "non-blue sample changed at %d", i)
	}
}

func TestEmbed_MSBFirstRasterOrder(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	Embed(img, "x")

	// 'W' = 0x57 = 0101 0111 goes into the first row.
	want := []byte{0, 1, 0, 1, 0, 1, 1, 1}
	for x, bit := range want {
		assert.Equal(t, bit, img.NRGBAAt(x, 0).B&1, "pixel %d", x)
	}
}

func TestEmbed_EmptyTextIsNoop(t *testing.T) {
	img := noisy(16, 16)
	orig := clone(img)

	out := Embed(img, "")

	assert.Same(t, img, out)
	assert.Equal(t, orig.Pix, out.Pix)
}

func TestEmbed_NilImage(t *testing.T) {
	assert.Nil(t, Embed(nil, "hello"))
	_, ok := Extract(nil)
	assert.False(t, ok)
}

func TestEmbed_TruncatesSilently(t *testing.T) {
	img := noisy(6, 6) // 36 bits: room for the marker and nothing else
	assert.False(t, Fits(img, "this will never fit"))

	assert.NotPanics(t, func() { Embed(img, "this will never fit") })

	text, ok := Extract(img)
	require.True(t, ok)
	assert.Empty(t, text)
}

func TestExtract_TruncatedTextWithoutTerminator(t *testing.T) {
	// Room for the marker plus two bytes of text, no terminator.
	img := noisy(48, 1)
	Embed(img, "hello")

	got, ok := Extract(img)
	require.True(t, ok)
	assert.Equal(t, "he", got)
}

func TestExtract_NoWatermark(t *testing.T) {
	tests := map[string]*image.NRGBA{
		"blank":  image.NewNRGBA(image.Rect(0, 0, 100, 100)),
		"noise":  noisy(100, 100),
		"tiny":   noisy(1, 1),
		"empty":  image.NewNRGBA(image.Rect(0, 0, 0, 0)),
		"opaque": solid(64, 64, color.NRGBA{R: 255, G: 255, B: 255, A: 255}),
	}
	for name, img := range tests {
		t.Run(name, func(t *testing.T) {
			text, ok := Extract(img)
			assert.False(t, ok)
			assert.Empty(t, text)
		})
	}
}

func TestExtract_MarkerNotAtStart(t *testing.T) {
	img := noisy(64, 64)
	r := newRaster(img)

	// Write the payload three bytes into the bit stream.
	i := 24
	for _, b := range Payload("offset") {
		for bit := 7; bit >= 0; bit-- {
			off := r.blue(i)
			img.Pix[off] = img.Pix[off]&0xFE | (b>>uint(bit))&1
			i++
		}
	}

	got, ok := Extract(img)
	require.True(t, ok)
	assert.Equal(t, "offset", got)
}

func TestSubImage(t *testing.T) {
	img := noisy(64, 64)
	sub := img.SubImage(image.Rect(24, 8, 64, 64)).(*image.NRGBA)
	orig := clone(img)

	Embed(sub, "inside")

	got, ok := Extract(sub)
	require.True(t, ok)
	assert.Equal(t, "inside", got)

	// Pixels outside the sub-image are untouched.
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if image.Pt(x, y).In(sub.Rect) {
				continue
			}
			require.Equal(t, orig.NRGBAAt(x, y), img.NRGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestExtract_ScanIsBounded(t *testing.T) {
	img := noisy(100, 100) // 1250 bytes available
	text := strings.Repeat("a", 1100)
	Embed(img, text)

	got, ok := Extract(img)
	require.True(t, ok)
	assert.Len(t, got, MaxScanBytes-len(Magic))
}

func TestExtract_InvalidUTF8Replaced(t *testing.T) {
	img := noisy(40, 40)
	Embed(img, "ok\xffok")

	got, ok := Extract(img)
	require.True(t, ok)
	assert.Equal(t, "ok\uFFFDok", got)
}

func TestCapacityAndFits(t *testing.T) {
	img := noisy(10, 10) // 100 pixels -> 12 bytes
	assert.Equal(t, 7, Capacity(img))
	assert.True(t, Fits(img, "1234567"))
	assert.False(t, Fits(img, "12345678"))

	assert.Zero(t, Capacity(noisy(2, 2)))
	assert.Zero(t, Capacity(nil))
	assert.True(t, Fits(nil, ""))
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
