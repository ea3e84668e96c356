// Package imaging post-processes captured screenshots: background trimming,
// downscaling, palette reduction and watermark embedding.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/image/draw"

	"github.com/porticus-lab/go-html-shot/watermark"
)

// Defaults applied by [Process].
const (
	DefaultMaxWidth      = 1080
	DefaultTrimThreshold = 10
)

// ParseHexColor parses "rgb" or "rrggbb", with or without a leading '#'.
func ParseHexColor(s string) (color.NRGBA, bool) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 3 && len(s) != 6 {
		return color.NRGBA{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, false
	}
	if len(s) == 3 {
		r, g, b := uint8(v>>8&0xF), uint8(v>>4&0xF), uint8(v&0xF)
		return color.NRGBA{R: r<<4 | r, G: g<<4 | g, B: b<<4 | b, A: 0xFF}, true
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}, true
}

// MaxPixels bounds the area of an image Decode accepts. An NRGBA image at
// the bound takes 256 MiB.
const MaxPixels = 64 << 20

// ErrTooLarge is returned by Decode for images whose header declares more
// than MaxPixels pixels.
var ErrTooLarge = errors.New("imaging: image too large")

// Decode decodes a PNG, JPEG or GIF into an NRGBA image anchored at the
// origin. The header is checked against MaxPixels before any pixel data is
// allocated.
func Decode(data []byte) (*image.NRGBA, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decoding image: %w", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("imaging: decoding image: %w", err)
	}
	return ToNRGBA(img), nil
}

// ToNRGBA returns img as an NRGBA image anchored at the origin, converting
// only when needed.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return dst
}

// Trim crops away the border whose pixels are within threshold of bg on
// every color channel. A fully transparent pixel counts as background. An
// image made only of background is returned unchanged.
func Trim(img *image.NRGBA, bg color.NRGBA, threshold int) *image.NRGBA {
	b := img.Rect
	isBG := func(x, y int) bool {
		c := img.NRGBAAt(x, y)
		if c.A == 0 {
			return true
		}
		return near(c.R, bg.R, threshold) && near(c.G, bg.G, threshold) && near(c.B, bg.B, threshold)
	}

	minX, minY, maxX, maxY := b.Max.X, b.Max.Y, b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if isBG(x, y) {
				continue
			}
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}
	if maxX < minX {
		return img
	}
	return img.SubImage(image.Rect(minX, minY, maxX+1, maxY+1)).(*image.NRGBA)
}

func near(a, b uint8, threshold int) bool {
	d := int(a) - int(b)
	return d <= threshold && -d <= threshold
}

// Resize scales img down to maxWidth keeping the aspect ratio. Images that
// are already narrow enough are returned as is.
func Resize(img *image.NRGBA, maxWidth int) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if maxWidth <= 0 || w <= maxWidth {
		return img
	}
	nh := max((h*maxWidth+w/2)/w, 1)
	dst := image.NewNRGBA(image.Rect(0, 0, maxWidth, nh))
	draw.CatmullRom.Scale(dst, dst.Rect, img, img.Rect, draw.Src, nil)
	return dst
}

// Quantize reduces img to a fixed 256-color palette with Floyd-Steinberg
// dithering and returns the result as NRGBA so it can still be watermarked.
func Quantize(img *image.NRGBA) *image.NRGBA {
	b := img.Rect
	pal := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette.Plan9)
	draw.FloydSteinberg.Draw(pal, pal.Rect, img, b.Min)
	return ToNRGBA(pal)
}

// Encode encodes img as PNG.
func Encode(img image.Image, level png.CompressionLevel) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imaging: encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// Options controls [Process].
type Options struct {
	// Trim enables trimming, downscaling and palette reduction against
	// TrimColor.
	Trim      bool
	TrimColor color.NRGBA
	// TrimThreshold defaults to DefaultTrimThreshold.
	TrimThreshold int
	// MaxWidth defaults to DefaultMaxWidth.
	MaxWidth int
	// Watermark is embedded last. Empty disables embedding.
	Watermark string
}

// Process runs the post-processing pipeline on an encoded screenshot:
// decode, then trim, resize and quantize when Trim is set, then embed the
// watermark, then encode as PNG. With neither Trim nor Watermark the input
// is returned untouched.
func Process(data []byte, opts Options) ([]byte, error) {
	if !opts.Trim && opts.Watermark == "" {
		return data, nil
	}
	if opts.TrimThreshold <= 0 {
		opts.TrimThreshold = DefaultTrimThreshold
	}
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = DefaultMaxWidth
	}

	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	level := png.DefaultCompression
	if opts.Trim {
		img = Trim(img, opts.TrimColor, opts.TrimThreshold)
		img = Resize(img, opts.MaxWidth)
		img = Quantize(img)
		level = png.BestCompression
	}
	if opts.Watermark != "" {
		img = watermark.Embed(img, opts.Watermark)
	}
	return Encode(img, level)
}
