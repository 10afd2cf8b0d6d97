package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/israel303/Lollypop/internal/backup"
	"github.com/israel303/Lollypop/internal/metrics"
	"github.com/israel303/Lollypop/internal/telegram"
)

// SecretTokenHeader carries the secret registered with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

const (
	DefaultPath         = "/webhook"
	defaultMaxBodyBytes = 1 << 20
	shutdownTimeout     = 10 * time.Second
)

// Enqueuer accepts updates for ordered processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, u telegram.Update) error
}

type Health struct {
	Ready   bool                  `json:"ready"`
	Mode    string                `json:"mode,omitempty"`
	Threads int                   `json:"threads"`
	Pending int                   `json:"pending"`
	Backup  backup.StatusSnapshot `json:"backup"`
}

type Options struct {
	Addr        string
	Path        string
	SecretToken string
	// Queue receives webhook updates. When nil the update route is not
	// mounted and the server only answers health and metrics.
	Queue Enqueuer
	// Health may be nil, in which case /healthz only reports liveness.
	Health       func() Health
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	MaxBodyBytes int64
}

type Server struct {
	srv    *http.Server
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Server {
	opts.Path = NormalizePath(opts.Path)
	opts.SecretToken = strings.TrimSpace(opts.SecretToken)
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{opts: opts, logger: logger}
	s.srv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// NormalizePath makes p an absolute route path, defaulting to /webhook.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return DefaultPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if s.opts.Queue != nil {
		r.Post(s.opts.Path, s.handleUpdate)
	}
	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}
	return r
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.opts.SecretToken != "" {
		got := r.Header.Get(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.SecretToken)) != 1 {
			s.logger.Warn("webhook_unauthorized", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.opts.MaxBodyBytes+1))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > s.opts.MaxBodyBytes {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	var u telegram.Update
	if err := json.Unmarshal(body, &u); err != nil {
		s.logger.Warn("webhook_decode_failed", "error", err.Error())
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}

	s.opts.Metrics.UpdateReceived("webhook")
	if err := s.opts.Queue.Enqueue(r.Context(), u); err != nil {
		// Telegram redelivers on non-2xx, so a stopping process does not lose it.
		s.logger.Warn("webhook_enqueue_failed", "update_id", u.UpdateID, "error", err.Error())
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{Ready: true}
	if s.opts.Health != nil {
		h = s.opts.Health()
	}
	w.Header().Set("Content-Type", "application/json")
	if !h.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h)
}

// Serve answers on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("webhook_server_started", "addr", ln.Addr().String(), "path", s.opts.Path)
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("webhook_server_shutdown_error", "error", err.Error())
		return err
	}
	s.logger.Info("webhook_server_stopped")
	return nil
}
