package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/semaphore"

	"github.com/alexkukunis/tradingtracker/internal/journal"
	"github.com/alexkukunis/tradingtracker/internal/logger"
	"github.com/alexkukunis/tradingtracker/internal/model"
	"github.com/alexkukunis/tradingtracker/internal/syncer"
	"github.com/alexkukunis/tradingtracker/internal/token"
)

type SyncRunner interface {
	Run(ctx context.Context, acct *model.Account, mode syncer.Mode) (syncer.Result, error)
}

// HTTPServer exposes the thin journal surface: trigger a sync, read trades
// and summaries. It also owns per-account sync exclusivity — the
// orchestrator is not safe under concurrent runs for the same account.
type HTTPServer struct {
	s      *http.Server
	store  *journal.Store
	orch   SyncRunner
	logger logger.Logger

	mu       sync.Mutex
	inflight map[string]*semaphore.Weighted
}

func NewHTTPServer(ctx context.Context, port string, store *journal.Store, orch SyncRunner, logger logger.Logger) *HTTPServer {
	srv := &HTTPServer{
		store:    store,
		orch:     orch,
		logger:   logger,
		inflight: make(map[string]*semaphore.Weighted),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/accounts/{id}/sync", srv.handleSync)
	mux.HandleFunc("GET /api/accounts/{id}/trades", srv.handleTrades)
	mux.HandleFunc("GET /api/accounts/{id}/summary", srv.handleSummary)

	srv.s = &http.Server{
		Handler:           mux,
		Addr:              ":" + port,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(listener net.Listener) context.Context {
			return ctx
		},
	}
	return srv
}

func (s *HTTPServer) Start() error {
	return s.s.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.s.Shutdown(ctx)
}

func (s *HTTPServer) Run(ctx context.Context) error {
	errCh := make(chan error)
	go func() {
		errCh <- s.Start()
	}()
	select {
	case <-ctx.Done():
		return s.Shutdown(ctx)
	case err := <-errCh:
		return err
	}
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("id")

	mode := syncer.Refresh
	if m := r.URL.Query().Get("mode"); m != "" {
		mode = syncer.Mode(m)
	}
	if mode != syncer.Refresh && mode != syncer.Initial {
		s.writeError(w, http.StatusBadRequest, "unknown sync mode")
		return
	}

	acct, err := s.store.Account(r.Context(), accountID)
	if err != nil {
		s.logger.Errorf("%s: can't load account %s", err, accountID)
		s.writeError(w, http.StatusInternalServerError, "can't load account")
		return
	}
	if acct == nil {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}

	guard := s.guard(accountID)
	if !guard.TryAcquire(1) {
		s.writeError(w, http.StatusConflict, "sync already in progress")
		return
	}
	defer guard.Release(1)

	result, err := s.orch.Run(r.Context(), acct, mode)
	if err != nil {
		if errors.Is(err, token.ErrReconnectRequired) {
			s.writeError(w, http.StatusUnauthorized, "stale credentials, reconnect account")
			return
		}
		s.logger.Errorf("%s: sync failed for account %s", err, accountID)
		s.writeError(w, http.StatusBadGateway, "sync failed, try again")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"created":           result.Created,
		"skipped":           result.Skipped,
		"positionsInWindow": result.PositionsInWindow,
		"lastSyncedAt":      result.LastSyncedAt,
	})
}

func (s *HTTPServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.Trades(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		s.logger.Errorf("%s: can't load trades", err)
		s.writeError(w, http.StatusInternalServerError, "can't load trades")
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *HTTPServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.Trades(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		s.logger.Errorf("%s: can't load trades", err)
		s.writeError(w, http.StatusInternalServerError, "can't load trades")
		return
	}
	s.writeJSON(w, http.StatusOK, journal.Summarize(trades))
}

// guard returns the per-account single-slot semaphore, creating it on first
// use.
func (s *HTTPServer) guard(accountID string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.inflight[accountID]
	if !ok {
		g = semaphore.NewWeighted(1)
		s.inflight[accountID] = g
	}
	return g
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		s.logger.Errorf("%s: can't marshal response", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.logger.Warnf("%s: can't write response", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
