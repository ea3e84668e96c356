// Package watermark hides a short text tag inside the pixel data of an image
// and recovers it again.
//
// The tag is written into the least significant bit of the blue channel, one
// bit per pixel, in raster order. It is a provenance marker, not a robust
// steganographic channel: any re-encoding that touches low bits (JPEG, resizing,
// palette reduction) destroys it.
//
//	img := watermark.Embed(img, "run-42 | 2025-01-01 00:00:00")
//	text, ok := watermark.Extract(img)
package watermark

import (
	"bytes"
	"image"
	"strings"
)

// Magic prefixes every embedded payload so Extract can find it.
const Magic = "WMSK"

// MaxScanBytes bounds how many bytes Extract decodes before giving up.
const MaxScanBytes = 1000

// blueOffset is the index of the blue sample inside an NRGBA pixel.
const blueOffset = 2

var magic = []byte(Magic)

// Payload returns the bytes Embed writes for text: the magic marker, the
// UTF-8 text and a zero terminator.
func Payload(text string) []byte {
	p := make([]byte, 0, len(magic)+len(text)+1)
	p = append(p, magic...)
	p = append(p, text...)
	return append(p, 0)
}

// Embed writes the payload for text into img, most significant bit first,
// starting at the top-left pixel. img is modified in place and returned.
//
// An empty text leaves img untouched. When img has fewer pixels than payload
// bits the remaining bits are dropped; use [Fits] to detect that up front.
func Embed(img *image.NRGBA, text string) *image.NRGBA {
	if img == nil || text == "" {
		return img
	}
	r := newRaster(img)
	i := 0
	for _, b := range Payload(text) {
		for bit := 7; bit >= 0; bit-- {
			if i >= r.n {
				return img
			}
			off := r.blue(i)
			img.Pix[off] = img.Pix[off]&0xFE | (b>>uint(bit))&1
			i++
		}
	}
	return img
}

// Extract recovers text previously written by [Embed]. It reports false when
// no marker is found in the first [MaxScanBytes] decoded bytes. If the
// terminator is missing the text runs to the end of the decoded bytes.
func Extract(img *image.NRGBA) (string, bool) {
	if img == nil {
		return "", false
	}
	r := newRaster(img)
	decoded := make([]byte, 0, min(r.n/8, MaxScanBytes))
	for i := 0; i+8 <= r.n && len(decoded) < MaxScanBytes; i += 8 {
		var b byte
		for j := 0; j < 8; j++ {
			b = b<<1 | img.Pix[r.blue(i+j)]&1
		}
		decoded = append(decoded, b)
	}

	start := bytes.Index(decoded, magic)
	if start < 0 {
		return "", false
	}
	text := decoded[start+len(magic):]
	if end := bytes.IndexByte(text, 0); end >= 0 {
		text = text[:end]
	}
	return strings.ToValidUTF8(string(text), "\uFFFD"), true
}

// Capacity returns the longest text, in bytes, that img can carry without
// truncation. It is zero for images too small to hold the marker.
func Capacity(img *image.NRGBA) int {
	if img == nil {
		return 0
	}
	return max(newRaster(img).n/8-len(magic)-1, 0)
}

// Fits reports whether the whole payload for text fits into img.
func Fits(img *image.NRGBA, text string) bool {
	if img == nil {
		return text == ""
	}
	return len(Payload(text))*8 <= newRaster(img).n
}

// raster addresses the pixels of an NRGBA image in raster order, honouring
// Stride so sub-images work.
type raster struct {
	img  *image.NRGBA
	w, n int
}

func newRaster(img *image.NRGBA) raster {
	b := img.Rect
	return raster{img: img, w: b.Dx(), n: b.Dx() * b.Dy()}
}

// blue returns the Pix index of the blue sample of the i-th pixel.
func (r raster) blue(i int) int {
	x := r.img.Rect.Min.X + i%r.w
	y := r.img.Rect.Min.Y + i/r.w
	return r.img.PixOffset(x, y) + blueOffset
}
