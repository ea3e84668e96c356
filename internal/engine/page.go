package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

var errNoNavigation = errors.New("no navigation started")

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	events *lifecycle

	mu     sync.Mutex
	closed bool
}

// run executes actions on the tab, aborting them when ctx is done without
// closing the tab itself.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		cp := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			URL:      c.URL,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: network.CookieSameSite(c.SameSite),
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			nsec := int64((c.Expires - float64(sec)) * 1e9)
			exp := cdp.TimeSinceEpoch(time.Unix(sec, nsec))
			cp.Expires = &exp
		}
		params = append(params, cp)
	}
	if err := p.run(ctx, network.SetCookies(params)); err != nil {
		return fmt.Errorf("engine: setting cookies: %w", err)
	}
	return nil
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, loaderID, errorText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("page load error %s", errorText)
		}
		p.events.expect(loaderID)
		return nil
	}))
	if err != nil {
		return fmt.Errorf("engine: navigating to %s: %w", url, err)
	}
	return nil
}

func (p *chromePage) WaitFor(ctx context.Context, state LoadState) error {
	if err := p.events.wait(ctx, state.String()); err != nil {
		return fmt.Errorf("engine: waiting for %s: %w", state, err)
	}
	return nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

func (p *chromePage) Evaluate(ctx context.Context, script string) error {
	if err := p.run(ctx, chromedp.Evaluate(script, nil, awaitPromise)); err != nil {
		return fmt.Errorf("engine: evaluating script: %w", err)
	}
	return nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("engine: capturing screenshot: %w", err)
	}
	return buf, nil
}

// Close closes the tab and waits for the target to be detached. chromedp
// bounds the detach and close calls of a non-first tab to one second. Close
// is idempotent.
func (p *chromePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	if err := chromedp.Cancel(p.ctx); err != nil {
		return fmt.Errorf("engine: closing page: %w", err)
	}
	return nil
}

// lifecycle records page lifecycle events for the main frame, keyed by
// loader so milestones from an earlier document never satisfy a wait.
type lifecycle struct {
	mu      sync.Mutex
	frame   cdp.FrameID
	loader  cdp.LoaderID
	started bool
	seen    map[cdp.LoaderID]map[string]bool
	changed chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		seen:    make(map[cdp.LoaderID]map[string]bool),
		changed: make(chan struct{}),
	}
}

// observe is a chromedp target listener. It must not block.
func (l *lifecycle) observe(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frame == "" || e.FrameID != l.frame {
		return
	}
	names := l.seen[e.LoaderID]
	if names == nil {
		names = make(map[string]bool)
		l.seen[e.LoaderID] = names
	}
	names[e.Name] = true
	close(l.changed)
	l.changed = make(chan struct{})
}

// track starts recording events for frame.
func (l *lifecycle) track(frame cdp.FrameID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frame = frame
}

// expect makes loader the document waits refer to and forgets every other
// document's events.
func (l *lifecycle) expect(loader cdp.LoaderID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loader = loader
	l.started = true
	for id := range l.seen {
		if id != loader {
			delete(l.seen, id)
		}
	}
}

// wait blocks until the expected document reached the named milestone.
// Same-document navigations have no loader and return immediately.
func (l *lifecycle) wait(ctx context.Context, name string) error {
	for {
		l.mu.Lock()
		if !l.started {
			l.mu.Unlock()
			return errNoNavigation
		}
		if l.loader == "" || l.seen[l.loader][name] {
			l.mu.Unlock()
			return nil
		}
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}
