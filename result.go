package htmlshot

import (
	"bytes"
	"encoding/base64"
	"io"
	"os"
)

// ContentType is the media type of every capture.
const ContentType = "image/png"

// Result holds a captured PNG and provides helpers for common output
// formats such as raw bytes, base64 encoding, and streaming readers.
//
// A Result is returned by every capture method. It is safe to call its
// methods multiple times; the underlying data is never modified.
type Result struct {
	data      []byte
	watermark string
}

// NewResult wraps already encoded PNG data and the descriptor embedded in
// it, if any.
func NewResult(data []byte, watermark string) *Result {
	return &Result{data: data, watermark: watermark}
}

// Bytes returns the raw PNG content.
func (r *Result) Bytes() []byte {
	return r.data
}

// Watermark returns the descriptor embedded into the image, or "" when the
// capture carries none.
func (r *Result) Watermark() string {
	return r.watermark
}

// ContentType returns the media type of the image.
func (r *Result) ContentType() string {
	return ContentType
}

// Base64 returns the PNG encoded as a standard base64 string (RFC 4648).
func (r *Result) Base64() string {
	return base64.StdEncoding.EncodeToString(r.data)
}

// DataURL returns the PNG as a data: URL suitable for an <img> src.
func (r *Result) DataURL() string {
	return "data:" + ContentType + ";base64," + r.Base64()
}

// Reader returns an [*bytes.Reader] over the PNG content.
func (r *Result) Reader() *bytes.Reader {
	return bytes.NewReader(r.data)
}

// WriteTo writes the full PNG content to w. It implements [io.WriterTo].
func (r *Result) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.data)
	return int64(n), err
}

// WriteToFile writes the PNG to the file at path, creating it if needed.
func (r *Result) WriteToFile(path string, perm os.FileMode) error {
	return os.WriteFile(path, r.data, perm)
}

// Len returns the size of the PNG in bytes.
func (r *Result) Len() int {
	return len(r.data)
}
