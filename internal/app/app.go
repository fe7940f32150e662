package app

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mhorky/livegate/internal/eventlog"
	"github.com/mhorky/livegate/internal/httpapi"
)

type App struct {
	cfg        Config
	logger     *log.Logger
	db         *pgxpool.Pool
	eventLog   *eventlog.Logger
	httpClient *http.Client // Shared HTTP client with connection pooling for remote audio fetches
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DeepgramAPIKey == "" {
		return nil, errors.New("DEEPGRAM_API_KEY is required")
	}
	if cfg.TokenSecret == "" {
		return nil, errors.New("TOKEN_SECRET is required")
	}

	// The event log database is optional; the gateway itself is stateless.
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		db = pool
	}

	// Shared HTTP client for fetching externally hosted audio streams.
	// The connect-side timeouts are deliberately short so a stalled source
	// cannot hang a session; reads are bounded per-session instead of with
	// a whole-request timeout, since streams are long-lived.
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		eventLog:   eventlog.New(db),
		httpClient: httpClient,
	}, nil
}

func (a *App) Router(conns *httpapi.ConnRegistry, shutdown func()) http.Handler {
	routerCfg := httpapi.RouterConfig{
		DeepgramAPIKey: a.cfg.DeepgramAPIKey,
		DeepgramURL:    a.cfg.DeepgramURL,
		TokenSecret:    a.cfg.TokenSecret,
		TokenExpiry:    a.cfg.TokenExpiry,
		FetchClient:    a.httpClient,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.eventLog, conns, shutdown)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
