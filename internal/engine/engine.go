// Package engine abstracts the headless browser behind a few small interfaces
// so the pool and the capture pipeline can run against a fake in tests.
//
// The production implementation, [Chrome], drives Chrome or Chromium over the
// DevTools protocol with chromedp.
package engine

import (
	"context"
	"errors"

	"github.com/porticus-lab/go-html-shot/device"
)

// ErrClosed is returned by operations on a browser, context or page that has
// already been closed.
var ErrClosed = errors.New("engine: closed")

// LoadState is a document lifecycle milestone a page can wait for.
type LoadState int

const (
	// Load fires once the document and all subresources finished loading.
	Load LoadState = iota
	// DOMContentLoaded fires once the document has been parsed.
	DOMContentLoaded
	// NetworkIdle fires once no network connections were active for 500ms.
	NetworkIdle
)

func (s LoadState) String() string {
	switch s {
	case Load:
		return "load"
	case DOMContentLoaded:
		return "DOMContentLoaded"
	case NetworkIdle:
		return "networkIdle"
	}
	return "unknown"
}

// Cookie is a cookie set into a browsing context before content loads.
// Either URL or Domain must be set. Expires is in Unix seconds; zero means a
// session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	URL      string  `json:"url,omitempty"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Secure   bool    `json:"secure,omitzero"`
	HTTPOnly bool    `json:"httpOnly,omitzero"`
	SameSite string  `json:"sameSite,omitempty"`
	Expires  float64 `json:"expires,omitzero"`
}

// Launcher starts a browser engine.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a running engine. It outlives the context passed to Launch and
// stays up until Close.
type Browser interface {
	// NewContext creates an isolated browsing context (own cookie jar and
	// cache) whose pages are emulated with profile.
	NewContext(ctx context.Context, profile device.Profile) (Context, error)
	Close() error
}

// Context is an isolated browsing context inside a Browser.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab. Closing it leaves its Context alive.
type Page interface {
	SetCookies(ctx context.Context, cookies []Cookie) error
	// Navigate starts loading url and returns once the navigation was
	// committed. Use WaitFor to wait for a later lifecycle milestone.
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, state LoadState) error
	Evaluate(ctx context.Context, script string) error
	// Screenshot captures the full scrollable page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}
