// Package server serves the training dashboard: an index page pushed live over a websocket and
// a json snapshot of the latest progress.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"time"

	"rlmutator/models"
	"rlmutator/server/fastview"
	"rlmutator/server/progress_view"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server serves a single page and its websocket. The page's update stream is shared, so with
// several browsers open each batch reaches only one of them.
type Server struct {
	addr   string
	page   *progress_view.Page
	router *mux.Router
	logger zerolog.Logger
}

// NewServer builds the views over progress. The server consumes progress until ctx ends.
func NewServer(
	ctx context.Context,
	addr string,
	progress <-chan models.Progress,
	logger zerolog.Logger,
) (*Server, error) {
	page, err := progress_view.NewPage(ctx, progress)
	if err != nil {
		return nil, fmt.Errorf("build views: %w", err)
	}

	server := &Server{
		addr:   addr,
		page:   page,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "server").Logger(),
	}
	server.router.HandleFunc("/", server.serveIndex).Methods(http.MethodGet)
	server.router.HandleFunc("/ws", server.serveWebsocket).Methods(http.MethodGet)
	server.router.HandleFunc("/stats", server.serveStats).Methods(http.MethodGet)
	return server, nil
}

// Handler returns the routes, e.g. for httptest.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Serve listens on the server's address until ctx ends, then shuts down gracefully.
func (server *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", server.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", server.addr, err)
	}
	return server.serve(ctx, ln)
}

func (server *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           server.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			server.logger.Warn().Err(err).Msg("shutdown")
		}
	}()

	server.logger.Info().Str("addr", ln.Addr().String()).Msg("serving dashboard")
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	<-stopped
	return nil
}

func (server *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	cli, err := fastview.NewClient(server.page.Updates(), w, r, server.logger)
	if err != nil {
		server.logger.Debug().Err(err).Msg("websocket")
		return
	}
	if err := cli.Sync(); err != nil {
		server.logger.Debug().Err(err).Msg("websocket closed")
	}
}

func (server *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	var page bytes.Buffer
	if err := renderTemplate(&page, server.page, server.page.Gauges().Snapshot()); err != nil {
		server.logger.Error().Err(err).Msg("render index")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = page.WriteTo(w)
}

func (server *Server) serveStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(server.page.Gauges().Stats()); err != nil {
		server.logger.Debug().Err(err).Msg("write stats")
	}
}

func renderTemplate(
	w io.Writer,
	vc fastview.ViewComponent,
	data interface{},
) (err error) {
	t := template.New("index.html")
	var tname string
	if tname, err = vc.Parse(t); err != nil {
		return
	}
	if _, err = t.Parse(`{{ template "` + tname + `" . }}`); err != nil {
		return
	}
	return t.Execute(w, data)
}
