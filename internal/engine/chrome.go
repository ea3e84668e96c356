package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/porticus-lab/go-html-shot/device"
)

// closeTimeout bounds the protocol calls made while closing contexts and the
// browser, which run detached from any caller context.
const closeTimeout = 10 * time.Second

// Options configures a [Chrome] launcher.
type Options struct {
	// ExecPath is the Chrome or Chromium binary. Empty means search PATH and
	// the standard install locations.
	ExecPath string
	// RemoteURL connects to an already running browser (a DevTools websocket
	// or http URL) instead of starting one. ExecPath and the flags below are
	// ignored when set.
	RemoteURL string
	// NoSandbox disables the Chrome sandbox, required when running as root.
	NoSandbox bool
	// AutoDownload fetches a known-good Chromium build when no binary is
	// configured or found.
	AutoDownload bool
	// Headless is passed to --headless. Defaults to "new".
	Headless string
	// Stealth injects a script hiding common headless fingerprints into
	// every document.
	Stealth bool

	Logger *zap.Logger
}

// Chrome launches Chrome through chromedp.
type Chrome struct {
	opts Options
	log  *zap.Logger
}

// NewChrome returns a launcher for opts.
func NewChrome(opts Options) *Chrome {
	if opts.Headless == "" {
		opts.Headless = "new"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Chrome{opts: opts, log: log.Named("engine")}
}

func (c *Chrome) allocator() (context.Context, context.CancelFunc, error) {
	if c.opts.RemoteURL != "" {
		ctx, cancel := chromedp.NewRemoteAllocator(context.Background(), c.opts.RemoteURL)
		return ctx, cancel, nil
	}

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("headless", c.opts.Headless),
	)
	path, err := findBrowser(c.opts.ExecPath, c.opts.AutoDownload)
	if err != nil {
		return nil, nil, err
	}
	if path != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(path))
	}
	if c.opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.Flag("no-sandbox", true))
	}
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	return ctx, cancel, nil
}

// Launch starts the browser and waits until it accepts commands. ctx bounds
// the start-up only; the browser keeps running after ctx is done.
func (c *Chrome) Launch(ctx context.Context) (Browser, error) {
	allocCtx, allocCancel, err := c.allocator()
	if err != nil {
		return nil, err
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	stop := context.AfterFunc(ctx, browserCancel)
	err = chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("engine: starting browser: %w", err)
	}
	if ctx.Err() != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("engine: starting browser: %w", ctx.Err())
	}

	c.log.Info("browser started", zap.String("remote_url", c.opts.RemoteURL))
	return &chromeBrowser{
		opts:          c.opts,
		log:           c.log,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

type chromeBrowser struct {
	opts          Options
	log           *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// executor returns ctx carrying the browser-level CDP executor.
func (b *chromeBrowser) executor(ctx context.Context) context.Context {
	return cdp.WithExecutor(ctx, chromedp.FromContext(b.browserCtx).Browser)
}

func (b *chromeBrowser) NewContext(ctx context.Context, profile device.Profile) (Context, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	id, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(b.executor(ctx))
	if err != nil {
		return nil, fmt.Errorf("engine: creating browser context: %w", err)
	}
	return &chromeContext{browser: b, id: id, profile: profile.Normalized()}, nil
}

// Close shuts the browser down gracefully and then releases the allocator.
// Close is idempotent.
func (b *chromeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var err error
	if b.opts.RemoteURL == "" {
		ctx, cancel := context.WithTimeout(b.browserCtx, closeTimeout)
		err = chromedp.Cancel(ctx)
		cancel()
	}
	b.browserCancel()
	b.allocCancel()
	if err != nil {
		return fmt.Errorf("engine: closing browser: %w", err)
	}
	return nil
}

type chromeContext struct {
	browser *chromeBrowser
	id      cdp.BrowserContextID
	profile device.Profile

	mu     sync.Mutex
	closed bool
}

func (c *chromeContext) NewPage(ctx context.Context) (Page, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	tabCtx, cancel := chromedp.NewContext(c.browser.browserCtx, chromedp.WithExistingBrowserContext(c.id))
	p := &chromePage{ctx: tabCtx, cancel: cancel, events: newLifecycle()}
	chromedp.ListenTarget(tabCtx, p.events.observe)

	// The first Run creates the target and binds its event loop to tabCtx,
	// so it must not run on a derived context.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tabCtx, c.emulate()...)
	stop()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("engine: opening page: %w", err)
	}

	p.events.track(cdp.FrameID(chromedp.FromContext(tabCtx).Target.TargetID))
	return p, nil
}

// emulate returns the actions applying the context's profile to a fresh tab.
func (c *chromeContext) emulate() []chromedp.Action {
	p := c.profile
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(p.Width), int64(p.Height), p.DeviceScaleFactor, p.IsMobile),
	}
	if p.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.UserAgent)
		if p.Locale != "" {
			ua = ua.WithAcceptLanguage(p.Locale)
		}
		actions = append(actions, ua)
	}
	if p.HasTouch {
		actions = append(actions, emulation.SetTouchEmulationEnabled(true).WithMaxTouchPoints(5))
	}
	if p.Locale != "" {
		actions = append(actions, emulation.SetLocaleOverride().WithLocale(p.Locale))
	}
	if p.TimezoneID != "" {
		actions = append(actions, emulation.SetTimezoneOverride(p.TimezoneID))
	}
	if p.ColorScheme != "" {
		actions = append(actions, emulation.SetEmulatedMedia().WithFeatures([]*emulation.MediaFeature{
			{Name: "prefers-color-scheme", Value: p.ColorScheme},
		}))
	}
	if len(p.Headers) > 0 {
		h := make(network.Headers, len(p.Headers))
		for k, v := range p.Headers {
			h[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(h))
	}
	if c.browser.opts.Stealth {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx)
			return err
		}))
	}
	return actions
}

// Close disposes of the browser context and every page still open in it.
// Close is idempotent.
func (c *chromeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := target.DisposeBrowserContext(c.id).Do(c.browser.executor(ctx)); err != nil {
		return fmt.Errorf("engine: disposing browser context: %w", err)
	}
	return nil
}
