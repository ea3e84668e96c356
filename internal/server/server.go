// Package server exposes a capturer over HTTP.
//
// Routes:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /{token}/{wait}/{trim}/{device}/*   capture the URL in the rest of the path
//	POST /{token}/capture                    capture a JSON request
//	POST /{token}/extract                    read the watermark of an uploaded image
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	htmlshot "github.com/porticus-lab/go-html-shot"
)

// DefaultMaxBodyBytes bounds request bodies when Options.MaxBodyBytes is 0.
const DefaultMaxBodyBytes = 10 << 20

// Capturer renders capture requests. *htmlshot.Shooter implements it.
type Capturer interface {
	Capture(ctx context.Context, req *htmlshot.Request) (*htmlshot.Result, error)
}

// Options configures a Server.
type Options struct {
	Token        string
	MaxBodyBytes int64
	Logger       *zap.Logger

	// Registry receives the HTTP metrics and is served on /metrics. A
	// private registry is used when nil.
	Registry *prometheus.Registry
}

// Server routes HTTP requests to a Capturer.
type Server struct {
	capt    Capturer
	token   string
	maxBody int64
	log     *zap.Logger
	metrics *metrics
	router  chi.Router
}

// New builds the router for c.
func New(c Capturer, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	gzip, err := gzhttp.NewWrapper(gzhttp.ExceptContentTypes([]string{htmlshot.ContentType}))
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		capt:    c,
		token:   opts.Token,
		maxBody: opts.MaxBodyBytes,
		log:     opts.Logger.Named("http"),
		metrics: newMetrics(opts.Registry),
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return gzip(next) })
	r.NotFound(s.usage)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))

	r.Route("/{token}", func(r chi.Router) {
		r.Use(s.authorize)
		r.Post("/capture", s.handleCapture)
		r.Post("/extract", s.handleExtract)
		r.Get("/{wait}/{trim}/{device}/*", s.handleShot)
	})
	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// authorize answers requests with a wrong token like unknown paths.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(chi.URLParam(r, "token")), []byte(s.token)) != 1 {
			s.usage(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, "Url should be like http://%s/:token/:wait/:trim/:device/*\n", r.Host)
}

// handleShot captures the URL formed by the wildcard and the raw query.
func (s *Server) handleShot(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "*")
	if target == "" {
		s.usage(w, r)
		return
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	dev := chi.URLParam(r, "device")
	if u, err := url.PathUnescape(dev); err == nil {
		dev = u
	}

	s.capture(w, r, &htmlshot.Request{
		URL:       target,
		Wait:      htmlshot.ParseWaitPolicy(chi.URLParam(r, "wait")),
		TrimColor: chi.URLParam(r, "trim"),
		Device:    dev,
	})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req htmlshot.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	s.capture(w, r, &req)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var resp struct {
		Watermark *string `json:"watermark"`
	}
	if text, ok := htmlshot.ExtractWatermark(body); ok {
		resp.Watermark = &text
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) capture(w http.ResponseWriter, r *http.Request, req *htmlshot.Request) {
	start := time.Now()
	res, err := s.capt.Capture(r.Context(), req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.captures.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(res.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := res.WriteTo(w); err != nil {
		s.log.Debug("writing capture", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
	}
}

// fail maps err to a status code. Internal errors are logged as well.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case htmlshot.IsValidation(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	default:
		s.log.Error("capture failed", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

// observe logs and counts every request by route pattern, which keeps the
// token out of logs and labels.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.metrics.duration.WithLabelValues(route).Observe(elapsed.Seconds())
		s.log.Info("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
		)
	})
}

// requestID takes X-Request-Id from the request or generates one, stores it
// where middleware.GetReqID finds it and echoes it in the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.MarshalWrite(w, v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": http.StatusText(code), "message": err.Error()})
}
