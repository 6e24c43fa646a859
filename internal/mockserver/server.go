// Package mockserver implements a local stand-in for the consultation
// backend. It speaks the real wire protocol with canned replies so the
// client, CLI, and tests can run without the production service.
package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wenzhenlab/wenzhen/internal/consult"
	"github.com/wenzhenlab/wenzhen/internal/jsonval"
)

// Config holds mock server settings.
type Config struct {
	// Addr is the listen address. Default 127.0.0.1:8787.
	Addr string

	// WriteTimeout bounds each response write. Default 60s.
	WriteTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8787"
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
}

// Server is the mock consultation backend.
type Server struct {
	cfg    Config
	logger *slog.Logger

	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration prometheus.Histogram

	mu     sync.Mutex
	visits map[string]int

	httpSrv *http.Server
}

// NewServer creates a mock server. Call Run to serve.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wenzhen_mock",
		Name:      "requests_total",
		Help:      "Consultation requests handled, by envelope status.",
	}, []string{"status"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wenzhen_mock",
		Name:      "request_duration_seconds",
		Help:      "Consultation request handling time.",
		Buckets:   prometheus.DefBuckets,
	})
	registry.MustRegister(requests, duration)

	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		requests: requests,
		duration: duration,
		visits:   make(map[string]int),
	}
}

// Handler returns the full route tree. Exposed so tests can mount it on
// an httptest server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/api/tcm_process", s.handleProcess)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		WriteTimeout: s.cfg.WriteTimeout,
		ReadTimeout:  30 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mock server listening", "addr", s.cfg.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("mockserver: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("mockserver: serve: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleProcess implements the consultation endpoint: validate the
// request, compose a canned reply from what was sent, and hand back a
// context delta the client is expected to merge.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := "success"
	defer func() {
		s.requests.WithLabelValues(status).Inc()
		s.duration.Observe(time.Since(start).Seconds())
	}()

	var req consult.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status = "error"
		s.writeFailure(w, "请求格式错误")
		return
	}
	if req.UserID == "" {
		status = "error"
		s.writeFailure(w, "缺少用户标识")
		return
	}
	if strings.TrimSpace(req.Payload.UserText) == "" && !req.Payload.Images.HasImage() {
		status = "error"
		s.writeFailure(w, "请提供问诊内容")
		return
	}

	s.mu.Lock()
	s.visits[req.UserID]++
	visit := s.visits[req.UserID]
	s.mu.Unlock()

	reply := composeReply(&req, visit)

	newContext := jsonval.Object{
		"visit_count": jsonval.Int(int64(visit)),
	}
	if topic := strings.TrimSpace(req.Payload.UserText); topic != "" {
		newContext["last_topic"] = jsonval.String(topic)
	}

	s.logger.Info("consultation handled",
		"user_id", req.UserID,
		"visit", visit,
		"history_len", len(req.Payload.History),
		"has_image", req.Payload.Images.HasImage())

	writeJSON(w, http.StatusOK, consult.Response{
		Status: "success",
		Data: &consult.Data{
			ReplyText:        reply,
			HasNewContext:    true,
			NewContextToSave: newContext,
		},
	})
}

// cannedAdvice rotates through generic consultation guidance so repeated
// turns do not read identically.
var cannedAdvice = []string{
	"建议保持规律作息，饮食清淡，观察两三日后再复诊。",
	"可适当增加温水摄入，避免生冷辛辣，注意保暖。",
	"近期情志宜舒畅，避免过度劳累，如症状加重请及时就医。",
}

func composeReply(req *consult.Request, visit int) string {
	var b strings.Builder
	if req.Payload.Images.Tongue != "" {
		b.WriteString("已收到舌像，舌质淡红、苔薄白。")
	}
	if req.Payload.Images.Face != "" {
		b.WriteString("已收到面像，面色尚可。")
	}
	if text := strings.TrimSpace(req.Payload.UserText); text != "" {
		fmt.Fprintf(&b, "关于「%s」：", text)
	}
	b.WriteString(cannedAdvice[(visit-1)%len(cannedAdvice)])
	return b.String()
}

func (s *Server) writeFailure(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, consult.Response{
		Status:  "error",
		Message: message,
	})
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
