// Package gateway is the optional HTTP surface of a server: WebSocket peers on
// /ws, Prometheus metrics on /metrics and a slot snapshot on /slots.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/rtnet/internal/metrics"
	"github.com/1ureka/rtnet/internal/server"
	"github.com/1ureka/rtnet/internal/transport"
	"github.com/1ureka/rtnet/internal/util"
)

const shutdownTimeout = 2 * time.Second

// Gateway routes HTTP requests to one Server.
type Gateway struct {
	srv     *server.Server
	router  chi.Router
	started time.Time

	listener net.Listener
}

func New(srv *server.Server) *Gateway {
	metrics.RegisterMetrics()

	g := &Gateway{srv: srv, started: time.Now()}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", g.handleWS)
	r.Get("/slots", g.handleSlots)
	r.Get("/health", g.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	g.router = r
	return g
}

// Handler returns the router, for mounting or for httptest.
func (g *Gateway) Handler() http.Handler { return g.router }

// Listen binds addr. Port 0 picks a free port; see Addr.
func (g *Gateway) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start gateway on %s: %w", addr, err)
	}
	g.listener = ln
	return nil
}

func (g *Gateway) Addr() net.Addr {
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Serve handles requests until ctx is cancelled. WebSocket peers already
// handed to the server are not affected by shutdown; the server owns them.
func (g *Gateway) Serve(ctx context.Context) error {
	if g.listener == nil {
		return errors.New("gateway: not listening")
	}

	hs := &http.Server{
		Handler:           g.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		util.LogInfo("gateway listening on http://%s", g.listener.Addr())
		if err := hs.Serve(g.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return hs.Shutdown(sctx)
	})
	return eg.Wait()
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r)
	if err != nil {
		// The upgrader has already written the HTTP error.
		util.LogDebug("ws upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	if err := g.srv.Attach(conn); err != nil {
		util.LogDebug("ws peer %s not attached: %v", r.RemoteAddr, err)
	}
}

func (g *Gateway) handleSlots(w http.ResponseWriter, r *http.Request) {
	slots := g.srv.Slots()
	if slots == nil {
		slots = []server.SlotInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"capacity": g.srv.Pool().Cap(),
		"slots":    slots,
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(g.started).Round(time.Second).String(),
		"occupied": g.srv.Pool().Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
