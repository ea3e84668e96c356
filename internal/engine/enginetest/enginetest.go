// Package enginetest provides an in-memory engine for tests of code built on
// package engine.
package enginetest

import (
	"context"
	"sync"
	"time"

	"github.com/porticus-lab/go-html-shot/device"
	"github.com/porticus-lab/go-html-shot/internal/engine"
)

// Launcher is a fake [engine.Launcher]. Its exported fields configure the
// behaviour of everything it creates and must be set before use.
type Launcher struct {
	LaunchErr error

	// LaunchDelay is slept inside every Launch.
	LaunchDelay time.Duration

	// Gate, when set, holds every Launch until it is closed.
	Gate chan struct{}

	NewContextErr   error
	ContextCloseErr error
	NewPageErr      error
	PageCloseErr    error
	NavigateErr     error
	EvaluateErr     error
	ScreenshotErr   error

	// WaitBlocks makes WaitFor block until its context is done.
	WaitBlocks bool

	// Image is returned by Screenshot.
	Image []byte

	mu       sync.Mutex
	launches int
	browsers []*Browser
	contexts []*Context
	pages    []*Page
}

var _ engine.Launcher = (*Launcher)(nil)

func (l *Launcher) Launch(ctx context.Context) (engine.Browser, error) {
	l.mu.Lock()
	l.launches++
	l.mu.Unlock()

	if l.LaunchDelay > 0 {
		time.Sleep(l.LaunchDelay)
	}
	if l.Gate != nil {
		select {
		case <-l.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	b := &Browser{l: l}
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.mu.Unlock()
	return b, nil
}

// Launches returns how often Launch was called.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Browsers returns every browser launched so far.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

// Contexts returns every context created so far, oldest first.
func (l *Launcher) Contexts() []*Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Context(nil), l.contexts...)
}

// Pages returns every page opened so far, oldest first.
func (l *Launcher) Pages() []*Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Page(nil), l.pages...)
}

// Browser is a fake [engine.Browser].
type Browser struct {
	l      *Launcher
	mu     sync.Mutex
	closed bool
}

func (b *Browser) NewContext(ctx context.Context, profile device.Profile) (engine.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, engine.ErrClosed
	}
	if b.l.NewContextErr != nil {
		return nil, b.l.NewContextErr
	}
	c := &Context{l: b.l, Browser: b, Profile: profile}
	b.l.mu.Lock()
	b.l.contexts = append(b.l.contexts, c)
	b.l.mu.Unlock()
	return c, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Context is a fake [engine.Context].
type Context struct {
	l       *Launcher
	Browser *Browser
	Profile device.Profile

	mu     sync.Mutex
	closes int
}

func (c *Context) NewPage(ctx context.Context) (engine.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.l.NewPageErr != nil {
		return nil, c.l.NewPageErr
	}
	p := &Page{l: c.l, Context: c}
	c.l.mu.Lock()
	c.l.pages = append(c.l.pages, p)
	c.l.mu.Unlock()
	return p, nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.l.ContextCloseErr
}

// Closed reports whether Close was called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes > 0
}

// Page is a fake [engine.Page] recording what was done to it.
type Page struct {
	l       *Launcher
	Context *Context

	mu      sync.Mutex
	cookies []engine.Cookie
	url     string
	waited  []engine.LoadState
	scripts []string
	closed  bool
}

func (p *Page) SetCookies(ctx context.Context, cookies []engine.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.l.NavigateErr != nil {
		return p.l.NavigateErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	return nil
}

func (p *Page) WaitFor(ctx context.Context, state engine.LoadState) error {
	p.mu.Lock()
	p.waited = append(p.waited, state)
	p.mu.Unlock()
	if p.l.WaitBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *Page) Evaluate(ctx context.Context, script string) error {
	p.mu.Lock()
	p.scripts = append(p.scripts, script)
	p.mu.Unlock()
	return p.l.EvaluateErr
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if p.l.ScreenshotErr != nil {
		return nil, p.l.ScreenshotErr
	}
	return append([]byte(nil), p.l.Image...), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.l.PageCloseErr
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// URL returns the last URL navigated to.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Cookies returns the cookies set on the page.
func (p *Page) Cookies() []engine.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.Cookie(nil), p.cookies...)
}

// Waited returns the load states waited for.
func (p *Page) Waited() []engine.LoadState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.LoadState(nil), p.waited...)
}

// Scripts returns the evaluated scripts.
func (p *Page) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}
