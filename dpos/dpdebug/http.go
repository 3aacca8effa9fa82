// Package dpdebug serves a read-mostly HTTP view of a running consensus engine.
package dpdebug

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gordian-engine/gdpos/dpos/dpround"
	"github.com/gordian-engine/gdpos/dpos/dpsched"
	"github.com/gordian-engine/gdpos/dpos/dpstore"
	"github.com/gorilla/mux"
)

// Engine is the subset of [dpengine.Engine] the HTTP server depends on.
type Engine interface {
	CurrentRound() dpround.Round
	LIBOffset() int
	Command(minerID string) (dpsched.Command, error)
	ApplySignedUpdate(ctx context.Context, b []byte) (dpround.Round, error)
}

type HTTPServer struct {
	done chan struct{}
}

type HTTPServerConfig struct {
	Listener net.Listener

	Engine Engine
	Store  dpstore.RoundStore
}

func NewHTTPServer(ctx context.Context, log *slog.Logger, cfg HTTPServerConfig) *HTTPServer {
	srv := &http.Server{
		Handler: NewHandler(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h := &HTTPServer{
		done: make(chan struct{}),
	}
	go h.serve(log, cfg.Listener, srv)
	go h.waitForShutdown(ctx, srv)

	return h
}

// Wait blocks until the server has stopped.
func (h *HTTPServer) Wait() {
	<-h.done
}

func (h *HTTPServer) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-h.done:
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (h *HTTPServer) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(h.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

// NewHandler returns the router used by [NewHTTPServer],
// for callers that manage their own server.
func NewHandler(log *slog.Logger, cfg HTTPServerConfig) http.Handler {
	r := mux.NewRouter()

	h := roundHandler{
		log:    log,
		engine: cfg.Engine,
		store:  cfg.Store,
	}

	r.HandleFunc("/round", h.HandleCurrentRound).Methods("GET")
	r.HandleFunc("/round/{number:[0-9]+}", h.HandleRound).Methods("GET")
	r.HandleFunc("/schedule/{miner}", h.HandleSchedule).Methods("GET")
	r.HandleFunc("/lib", h.HandleLIB).Methods("GET")

	r.HandleFunc("/updates", h.HandleSubmitUpdate).Methods("POST")

	return r
}
