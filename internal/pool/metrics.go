package pool

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	contexts    prometheus.Gauge
	hits        prometheus.Counter
	misses      prometheus.Counter
	evictions   prometheus.Counter
	launches    prometheus.Counter
	closeErrors *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: "htmlshot", Subsystem: "pool", Name: name, Help: help}
	}
	m := &metrics{
		contexts:  prometheus.NewGauge(prometheus.GaugeOpts(opts("contexts", "Browsing contexts currently cached."))),
		hits:      prometheus.NewCounter(prometheus.CounterOpts(opts("hits_total", "Acquisitions served by a cached context."))),
		misses:    prometheus.NewCounter(prometheus.CounterOpts(opts("misses_total", "Acquisitions that created a context."))),
		evictions: prometheus.NewCounter(prometheus.CounterOpts(opts("evictions_total", "Contexts evicted as least recently used."))),
		launches:  prometheus.NewCounter(prometheus.CounterOpts(opts("engine_launches_total", "Browser engine launches."))),
		closeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("close_errors_total", "Failures closing pages, contexts or the engine.")),
			[]string{"kind"},
		),
	}
	if reg == nil {
		return m
	}
	m.contexts = register(reg, m.contexts)
	m.hits = register(reg, m.hits)
	m.misses = register(reg, m.misses)
	m.evictions = register(reg, m.evictions)
	m.launches = register(reg, m.launches)
	m.closeErrors = register(reg, m.closeErrors)
	return m
}

// register adds c to reg, reusing the collector already registered under the
// same description so several pools can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	return c
}
