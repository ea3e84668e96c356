// Package htmlshot renders web pages and HTML fragments to PNG images with
// headless Chrome (Chrome DevTools Protocol) and can tag every capture with
// an invisible watermark.
//
// For one-off captures use the package-level helpers:
//
//	res, err := htmlshot.CaptureHTML(ctx, "<h1>Hello</h1>")
//
// For repeated captures create a [Shooter], which reuses the browser process
// and keeps one browsing context per device profile:
//
//	s := htmlshot.NewShooter()
//	defer s.Close()
//
//	res, err := s.CaptureHTML(ctx, "<h1>Hello</h1>")
//	res, err  = s.CaptureURL(ctx, "https://example.com")
//	res, err  = s.CaptureFile(ctx, "report.html")
//
// Use [Request] to pick a device, a wait policy, cookies, a script and
// background trimming:
//
//	res, err := s.Capture(ctx, &htmlshot.Request{
//	    URL:       "https://example.com",
//	    Device:    "iPhone X",
//	    Wait:      htmlshot.WaitNetworkIdle,
//	    TrimColor: "fff",
//	    Watermark: "run-42",
//	})
//
// When Watermark is set the image carries a descriptor of the capture in the
// low bits of its blue channel. [ExtractWatermark] reads it back:
//
//	text, ok := htmlshot.ExtractWatermark(res.Bytes())
//
// A [Result] gives flexible access to the PNG bytes:
//
//	res.Bytes()                          // []byte
//	res.Base64()                         // base64 string (RFC 4648)
//	res.DataURL()                        // data:image/png;base64,...
//	res.Reader()                         // *bytes.Reader
//	res.WriteTo(w)                       // io.WriterTo
//	res.WriteToFile("shot.png", 0o644)   // write to disk
//
// Chrome or Chromium must be available in PATH, or use [WithAutoDownload]:
//
//	s := htmlshot.NewShooter(htmlshot.WithAutoDownload())
package htmlshot
