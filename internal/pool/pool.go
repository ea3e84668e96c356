// Package pool shares one browser engine between concurrent captures and
// keeps a bounded, least-recently-used cache of browsing contexts keyed by
// device profile.
//
// Every Acquire returns a fresh page inside the cached context for its
// profile; Release closes only that page. Contexts are closed when they are
// evicted or when the pool is torn down.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/porticus-lab/go-html-shot/device"
	"github.com/porticus-lab/go-html-shot/internal/engine"
)

// DefaultMaxContexts is the cache bound used when none is configured.
const DefaultMaxContexts = 10

// DefaultCreateTimeout bounds the creation of a single browsing context.
const DefaultCreateTimeout = 30 * time.Second

// ErrTornDown is returned to acquisitions that raced with Teardown.
var ErrTornDown = errors.New("pool: torn down during acquisition")

// ErrClosed is returned by Acquire once the pool has been closed.
var ErrClosed = errors.New("pool: closed")

// Option configures a [Pool].
type Option func(*Pool)

// WithMaxContexts sets the cache bound. Values below 1 are clamped to 1.
func WithMaxContexts(n int) Option {
	return func(p *Pool) {
		p.max = max(n, 1)
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		p.log = l
	}
}

// WithRegisterer registers the pool metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pool) {
		p.reg = reg
	}
}

// WithCreateTimeout bounds how long creating one browsing context may take.
func WithCreateTimeout(d time.Duration) Option {
	return func(p *Pool) {
		p.createTimeout = d
	}
}

type entry struct {
	key string
	ctx engine.Context
}

// Pool owns the engine and the context cache. It is safe for concurrent use.
type Pool struct {
	launcher      engine.Launcher
	log           *zap.Logger
	reg           prometheus.Registerer
	metrics       *metrics
	createTimeout time.Duration

	launching singleflight.Group
	creating  singleflight.Group

	mu      sync.Mutex
	max     int
	browser engine.Browser
	gen     uint64
	closed  bool
	entries map[string]*list.Element
	order   *list.List // front is most recently used
}

// New returns a pool launching engines with l. Nothing is started until the
// first Acquire.
func New(l engine.Launcher, opts ...Option) *Pool {
	p := &Pool{
		launcher:      l,
		log:           zap.NewNop(),
		max:           DefaultMaxContexts,
		createTimeout: DefaultCreateTimeout,
		entries:       make(map[string]*list.Element),
		order:         list.New(),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.Named("pool")
	p.metrics = newMetrics(p.reg)
	return p
}

// Acquire returns a new page inside the browsing context for profile,
// creating the context (and launching the engine) when needed. The caller
// must hand the page back with Release.
func (p *Pool) Acquire(ctx context.Context, profile device.Profile) (engine.Page, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	key := profile.Key()
	bctx, err := p.context(ctx, key, profile)
	if err != nil {
		return nil, err
	}
	page, err := bctx.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool: opening page: %w", err)
	}
	return page, nil
}

// Release closes page. Its context stays cached. A close failure is logged
// and otherwise ignored.
func (p *Pool) Release(page engine.Page) {
	if page == nil {
		return
	}
	if err := page.Close(); err != nil {
		p.metrics.closeErrors.WithLabelValues("page").Inc()
		p.log.Warn("closing page failed", zap.Error(err))
	}
}

// Configure changes the cache bound for later insertions. Contexts already
// cached beyond the new bound are not evicted until the next insertion.
func (p *Pool) Configure(maxContexts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.max = max(maxContexts, 1)
}

// MaxContexts returns the current cache bound.
func (p *Pool) MaxContexts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.max
}

// Len returns the number of cached contexts.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// Keys returns the cached profile keys, most recently used first.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// Teardown closes every cached context and then the engine. Failures are
// logged and returned joined; teardown always runs to completion. Teardown
// is idempotent, and a later Acquire launches a fresh engine.
func (p *Pool) Teardown() error {
	p.mu.Lock()
	victims := make([]*entry, 0, p.order.Len())
	for el := p.order.Front(); el != nil; el = el.Next() {
		victims = append(victims, el.Value.(*entry))
	}
	browser := p.browser
	p.browser = nil
	p.entries = make(map[string]*list.Element)
	p.order.Init()
	p.gen++
	p.metrics.contexts.Set(0)
	p.mu.Unlock()

	var errs []error
	for _, e := range victims {
		if err := p.closeContext(e); err != nil {
			errs = append(errs, err)
		}
	}
	if browser != nil {
		if err := browser.Close(); err != nil {
			p.metrics.closeErrors.WithLabelValues("engine").Inc()
			p.log.Warn("closing engine failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("pool: closing engine: %w", err))
		} else {
			p.log.Info("engine closed")
		}
	}
	return errors.Join(errs...)
}

// Close tears the pool down for good. Acquisitions in flight or started
// later fail with ErrClosed, and anything they create is closed instead of
// cached. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Teardown()
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// lookup returns the cached context for key and marks it most recently used.
func (p *Pool) lookup(key string) (engine.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.entries[key]
	if !ok {
		return nil, false
	}
	p.order.MoveToFront(el)
	return el.Value.(*entry).ctx, true
}

// context resolves the browsing context for key. Concurrent misses on the
// same key share one creation; a caller whose ctx ends stops waiting without
// failing the others.
func (p *Pool) context(ctx context.Context, key string, profile device.Profile) (engine.Context, error) {
	if c, ok := p.lookup(key); ok {
		p.metrics.hits.Inc()
		return c, nil
	}

	ch := p.creating.DoChan(key, func() (any, error) {
		if c, ok := p.lookup(key); ok {
			p.metrics.hits.Inc()
			return c, nil
		}
		p.metrics.misses.Inc()

		detached := context.WithoutCancel(ctx)
		browser, gen, err := p.engine(detached)
		if err != nil {
			return nil, err
		}

		cctx, cancel := context.WithTimeout(detached, p.createTimeout)
		defer cancel()
		c, err := browser.NewContext(cctx, profile)
		if err != nil {
			return nil, fmt.Errorf("pool: creating context: %w", err)
		}
		return p.insert(key, c, gen)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(engine.Context), nil
	}
}

type launched struct {
	browser engine.Browser
	gen     uint64
}

// engine returns the running engine, launching it once if absent.
func (p *Pool) engine(ctx context.Context) (engine.Browser, uint64, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, 0, ErrClosed
	}
	if p.browser != nil {
		b, gen := p.browser, p.gen
		p.mu.Unlock()
		return b, gen, nil
	}
	p.mu.Unlock()

	ch := p.launching.DoChan("engine", func() (any, error) {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		if p.browser != nil {
			l := launched{p.browser, p.gen}
			p.mu.Unlock()
			return l, nil
		}
		gen := p.gen
		p.mu.Unlock()

		b, err := p.launcher.Launch(context.WithoutCancel(ctx))
		if err != nil {
			p.log.Error("launching engine failed", zap.Error(err))
			return nil, fmt.Errorf("pool: launching engine: %w", err)
		}
		p.metrics.launches.Inc()

		p.mu.Lock()
		if p.gen != gen || p.closed {
			closed := p.closed
			p.mu.Unlock()
			if err := b.Close(); err != nil {
				p.metrics.closeErrors.WithLabelValues("engine").Inc()
				p.log.Warn("closing engine failed", zap.Error(err))
			}
			if closed {
				return nil, ErrClosed
			}
			return nil, ErrTornDown
		}
		p.browser = b
		p.mu.Unlock()
		p.log.Info("engine launched")
		return launched{b, gen}, nil
	})

	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, 0, r.Err
		}
		l := r.Val.(launched)
		return l.browser, l.gen, nil
	}
}

// insert caches c under key as most recently used, evicting least recently
// used contexts until the bound holds. A context created on an engine that
// was torn down meanwhile is closed instead.
func (p *Pool) insert(key string, c engine.Context, gen uint64) (engine.Context, error) {
	e := &entry{key: key, ctx: c}

	p.mu.Lock()
	if p.gen != gen || p.closed {
		closed := p.closed
		p.mu.Unlock()
		p.closeContext(e)
		if closed {
			return nil, ErrClosed
		}
		return nil, ErrTornDown
	}
	if el, ok := p.entries[key]; ok {
		p.order.MoveToFront(el)
		p.mu.Unlock()
		p.closeContext(e)
		return el.Value.(*entry).ctx, nil
	}
	var evicted []*entry
	for p.order.Len() >= p.max {
		el := p.order.Back()
		victim := p.order.Remove(el).(*entry)
		delete(p.entries, victim.key)
		evicted = append(evicted, victim)
	}
	p.entries[key] = p.order.PushFront(e)
	p.metrics.contexts.Set(float64(p.order.Len()))
	p.mu.Unlock()

	for _, v := range evicted {
		p.metrics.evictions.Inc()
		p.log.Debug("evicting context", zap.String("key", v.key))
		p.closeContext(v)
	}
	p.log.Debug("context created", zap.String("key", key))
	return c, nil
}

func (p *Pool) closeContext(e *entry) error {
	if err := e.ctx.Close(); err != nil {
		p.metrics.closeErrors.WithLabelValues("context").Inc()
		p.log.Warn("closing context failed", zap.String("key", e.key), zap.Error(err))
		return fmt.Errorf("pool: closing context: %w", err)
	}
	return nil
}
