package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mhorky/livegate/internal/auth"
	"github.com/mhorky/livegate/internal/eventlog"
)

type RouterConfig struct {
	// Upstream transcription service
	DeepgramAPIKey string
	DeepgramURL    string // empty means the production endpoint

	// Session token signing
	TokenSecret string
	TokenExpiry time.Duration

	// HTTP client for fetching externally hosted audio streams
	FetchClient *http.Client
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	eventLog *eventlog.Logger
	conns    *ConnRegistry
	issuer   *auth.Issuer
	shutdown func()
	mux      *http.ServeMux
}

// NewRouter builds the HTTP handler. conns is the injected registry of
// active client sockets; shutdown is invoked when an uncaught panic
// escapes a handler, so the process drains instead of limping on.
func NewRouter(cfg RouterConfig, logger *log.Logger, eventLog *eventlog.Logger, conns *ConnRegistry, shutdown func()) http.Handler {
	if cfg.FetchClient == nil {
		cfg.FetchClient = &http.Client{Timeout: 10 * time.Second}
	}
	if shutdown == nil {
		shutdown = func() {}
	}

	r := &Router{
		cfg:      cfg,
		logger:   logger,
		eventLog: eventLog,
		conns:    conns,
		issuer:   auth.NewIssuer(cfg.TokenSecret, cfg.TokenExpiry),
		shutdown: shutdown,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return r.withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Session + metadata (public)
	r.mux.HandleFunc("GET /api/session", r.handleSession)
	r.mux.HandleFunc("GET /api/metadata", r.handleMetadata)

	// Websocket endpoints (subprotocol token auth)
	r.mux.HandleFunc("GET /api/live-transcription", r.handleLiveWS)
	r.mux.HandleFunc("GET /api/stream-transcription", r.handleStreamWS)
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.conns.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (r *Router) withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				r.logger.Printf("http: panic in %s %s: %v", req.Method, req.URL.Path, err)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
				// An uncaught error is treated like a termination signal.
				r.shutdown()
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
