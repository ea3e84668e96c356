package htmlshot

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/porticus-lab/go-html-shot/internal/engine"
	"github.com/porticus-lab/go-html-shot/internal/pool"
)

// shooterConfig holds internal configuration for a Shooter.
type shooterConfig struct {
	chromePath   string
	remoteURL    string
	timeout      time.Duration
	waitTimeout  time.Duration
	noSandbox    bool
	autoDownload bool
	stealth      bool
	headless     string
	maxContexts  int
	maxWidth     int
	logger       *zap.Logger
	registerer   prometheus.Registerer
	clock        func() time.Time
	launcher     engine.Launcher
}

func defaultConfig() shooterConfig {
	return shooterConfig{
		timeout:     60 * time.Second,
		waitTimeout: 30 * time.Second,
		headless:    "new",
		maxContexts: pool.DefaultMaxContexts,
		maxWidth:    1080,
		logger:      zap.NewNop(),
		clock:       time.Now,
	}
}

// Option configures a [Shooter].
type Option func(*shooterConfig)

// WithChromePath sets the path to the Chrome or Chromium executable.
// By default the library searches standard locations automatically.
func WithChromePath(path string) Option {
	return func(c *shooterConfig) {
		c.chromePath = path
	}
}

// WithRemoteURL attaches to an already running browser through its DevTools
// endpoint instead of launching one.
func WithRemoteURL(url string) Option {
	return func(c *shooterConfig) {
		c.remoteURL = url
	}
}

// WithTimeout sets the maximum duration for a single capture.
// Defaults to 60 seconds. A zero or negative value disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *shooterConfig) {
		c.timeout = d
	}
}

// WithWaitTimeout bounds every wait policy. When it expires the capture
// proceeds with whatever has rendered. Defaults to 30 seconds.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *shooterConfig) {
		if d > 0 {
			c.waitTimeout = d
		}
	}
}

// WithNoSandbox disables the Chrome sandbox. This is required when
// running as root, for example inside Docker containers.
func WithNoSandbox() Option {
	return func(c *shooterConfig) {
		c.noSandbox = true
	}
}

// WithAutoDownload downloads a compatible Chromium build on first launch
// when no browser is installed.
func WithAutoDownload() Option {
	return func(c *shooterConfig) {
		c.autoDownload = true
	}
}

// WithStealth masks common headless-browser fingerprints on every page.
func WithStealth() Option {
	return func(c *shooterConfig) {
		c.stealth = true
	}
}

// WithMaxContexts bounds how many device profiles keep a live browsing
// context. Defaults to 10.
func WithMaxContexts(n int) Option {
	return func(c *shooterConfig) {
		c.maxContexts = n
	}
}

// WithMaxWidth sets the width trimmed captures are scaled down to.
// Defaults to 1080 pixels.
func WithMaxWidth(px int) Option {
	return func(c *shooterConfig) {
		if px > 0 {
			c.maxWidth = px
		}
	}
}

// WithLogger sets the logger. The library is silent by default.
func WithLogger(l *zap.Logger) Option {
	return func(c *shooterConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRegisterer registers the pool metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *shooterConfig) {
		c.registerer = reg
	}
}

// WithClock sets the time source used for watermark timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *shooterConfig) {
		if now != nil {
			c.clock = now
		}
	}
}

// withLauncher replaces the Chrome launcher.
func withLauncher(l engine.Launcher) Option {
	return func(c *shooterConfig) {
		c.launcher = l
	}
}
