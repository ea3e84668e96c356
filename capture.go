package htmlshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/porticus-lab/go-html-shot/internal/engine"
	"github.com/porticus-lab/go-html-shot/internal/imaging"
	"github.com/porticus-lab/go-html-shot/internal/pool"
	"github.com/porticus-lab/go-html-shot/watermark"
)

// Shooter captures web pages and HTML fragments as PNG images.
//
// A Shooter shares one headless browser between all captures and keeps a
// browsing context per device profile, evicting the least recently used one
// when more than the configured number of profiles is in use. The browser is
// started on the first capture. It is safe for concurrent use.
//
// Call [Shooter.Close] when the Shooter is no longer needed to release
// browser resources.
type Shooter struct {
	cfg  shooterConfig
	pool *pool.Pool
	log  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewShooter creates a Shooter with the given options. No browser is started
// until the first capture.
func NewShooter(opts ...Option) *Shooter {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	launcher := cfg.launcher
	if launcher == nil {
		launcher = engine.NewChrome(engine.Options{
			ExecPath:     cfg.chromePath,
			RemoteURL:    cfg.remoteURL,
			NoSandbox:    cfg.noSandbox,
			AutoDownload: cfg.autoDownload,
			Headless:     cfg.headless,
			Stealth:      cfg.stealth,
			Logger:       cfg.logger,
		})
	}

	return &Shooter{
		cfg: cfg,
		pool: pool.New(launcher,
			pool.WithMaxContexts(cfg.maxContexts),
			pool.WithLogger(cfg.logger),
			pool.WithRegisterer(cfg.registerer),
		),
		log: cfg.logger.Named("capture"),
	}
}

// Close tears down every browsing context and the browser. Close is
// idempotent.
func (s *Shooter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("htmlshot: closing: %w", err)
	}
	return nil
}

// Configure changes how many device profiles keep a live browsing context.
// It applies to later captures and never evicts by itself.
func (s *Shooter) Configure(maxContexts int) {
	s.pool.Configure(maxContexts)
}

// Capture renders req and returns the captured image.
//
// Navigation and screenshot failures are returned; an expired wait and a
// failing script are logged and the capture proceeds.
func (s *Shooter) Capture(ctx context.Context, req *Request) (*Result, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	r, err := req.resolved()
	if err != nil {
		return nil, err
	}

	if s.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.timeout)
		defer cancel()
	}

	profile := r.profile()
	log := s.log.With(zap.String("device", profile.Name), zap.Stringer("wait", r.Wait))
	if r.URL != "" {
		log = log.With(zap.String("url", r.URL))
	}

	page, err := s.pool.Acquire(ctx, profile)
	if errors.Is(err, pool.ErrClosed) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, fmt.Errorf("htmlshot: acquiring page: %w", err)
	}
	defer s.pool.Release(page)

	if len(r.Cookies) > 0 {
		if err := page.SetCookies(ctx, r.Cookies); err != nil {
			return nil, fmt.Errorf("htmlshot: %w", err)
		}
	}

	target := r.URL
	if r.HTML != "" {
		name, err := writeTemp(r.HTML)
		if err != nil {
			return nil, err
		}
		defer os.Remove(name)
		target = "file://" + name
	}
	if err := page.Navigate(ctx, target); err != nil {
		return nil, fmt.Errorf("htmlshot: loading content: %w", err)
	}

	s.wait(ctx, log, page, r.Wait)

	if r.Script != "" {
		if err := page.Evaluate(ctx, r.Script); err != nil {
			log.Warn("script failed", zap.Error(err))
		}
	}

	shot, err := page.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("htmlshot: %w", err)
	}

	desc := Describe(r, profile, s.cfg.clock())
	opts := imaging.Options{MaxWidth: s.cfg.maxWidth, Watermark: desc}
	if c, ok := imaging.ParseHexColor(r.TrimColor); ok {
		opts.Trim = true
		opts.TrimColor = c
	}
	out, err := imaging.Process(shot, opts)
	if err != nil {
		return nil, fmt.Errorf("htmlshot: processing capture: %w", err)
	}
	log.Debug("captured", zap.Int("bytes", len(out)))
	return &Result{data: out, watermark: desc}, nil
}

// wait applies the wait policy bounded by the wait timeout. Expiry is logged
// and otherwise ignored.
func (s *Shooter) wait(ctx context.Context, log *zap.Logger, page engine.Page, w WaitPolicy) {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.waitTimeout)
	defer cancel()

	var err error
	if d, ok := w.delay(); ok {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-wctx.Done():
			err = wctx.Err()
		}
	} else {
		err = page.WaitFor(wctx, w.loadState())
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		log.Warn("wait timed out, capturing anyway", zap.Duration("timeout", s.cfg.waitTimeout))
	} else if err != nil {
		log.Warn("wait failed", zap.Error(err))
	}
}

// writeTemp stores html in a temporary file and returns its absolute path.
func writeTemp(html string) (string, error) {
	f, err := os.CreateTemp("", "htmlshot-*.html")
	if err != nil {
		return "", fmt.Errorf("htmlshot: creating temp file: %w", err)
	}
	name := f.Name()

	if _, err := f.WriteString(html); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("htmlshot: writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("htmlshot: closing temp file: %w", err)
	}

	abs, err := filepath.Abs(name)
	if err != nil {
		os.Remove(name)
		return "", fmt.Errorf("htmlshot: resolving path: %w", err)
	}
	return abs, nil
}

// CaptureURL captures the web page at rawURL with default settings.
func (s *Shooter) CaptureURL(ctx context.Context, rawURL string) (*Result, error) {
	return s.Capture(ctx, &Request{URL: rawURL})
}

// CaptureHTML renders an HTML string with default settings.
func (s *Shooter) CaptureHTML(ctx context.Context, html string) (*Result, error) {
	return s.Capture(ctx, &Request{HTML: html})
}

// CaptureFile renders a local HTML file with default settings.
func (s *Shooter) CaptureFile(ctx context.Context, path string) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("htmlshot: resolving path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("htmlshot: %w", err)
	}
	return s.Capture(ctx, &Request{URL: "file://" + filepath.ToSlash(abs)})
}

func (s *Shooter) checkClosed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// ExtractWatermark decodes a PNG, JPEG or GIF image and returns the text
// embedded by a watermarked capture. It reports false when data is not an
// image or carries no watermark.
func ExtractWatermark(data []byte) (string, bool) {
	img, err := imaging.Decode(data)
	if err != nil {
		return "", false
	}
	return watermark.Extract(img)
}

// --- Package-level convenience functions ---

// Capture renders req using a temporary [Shooter]. This is convenient for
// one-off captures. For repeated use, create a [Shooter] with [NewShooter]
// to reuse the browser instance.
func Capture(ctx context.Context, req *Request, opts ...Option) (*Result, error) {
	s := NewShooter(opts...)
	defer s.Close()
	return s.Capture(ctx, req)
}

// CaptureURL captures a web page using a temporary [Shooter].
func CaptureURL(ctx context.Context, rawURL string, opts ...Option) (*Result, error) {
	return Capture(ctx, &Request{URL: rawURL}, opts...)
}

// CaptureHTML renders an HTML string using a temporary [Shooter].
func CaptureHTML(ctx context.Context, html string, opts ...Option) (*Result, error) {
	return Capture(ctx, &Request{HTML: html}, opts...)
}

// CaptureFile renders a local HTML file using a temporary [Shooter].
func CaptureFile(ctx context.Context, path string, opts ...Option) (*Result, error) {
	s := NewShooter(opts...)
	defer s.Close()
	return s.CaptureFile(ctx, path)
}
