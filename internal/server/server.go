// Package server exposes stored event streams over a read-only JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"logscope/internal/metrics"
	"logscope/internal/model"
	"logscope/internal/store"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server serves queries from a store.Reader it does not own.
type Server struct {
	addr   string
	reader store.Reader
	logger *zap.Logger
}

// New returns a server that will listen on addr. A nil logger discards output.
func New(addr string, reader store.Reader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{addr: addr, reader: reader, logger: logger.With(zap.String("component", "server"))}
}

// Handler returns the HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/streams/{stream}/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return cors.Default().Handler(mux)
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully. A listen failure is returned as an error.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("query server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = srv.Close()
	}
	<-errCh
	s.logger.Info("query server stopped")
	return nil
}

type eventsResponse struct {
	Stream string               `json:"stream"`
	Events []model.DisplayEvent `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	stream := r.PathValue("stream")
	query := r.URL.Query()
	txParam, blockParam := query.Get("tx"), query.Get("block")

	kind := "all"
	switch {
	case txParam != "" && blockParam != "":
		kind = "invalid"
	case txParam != "":
		kind = "tx"
	case blockParam != "":
		kind = "block"
	}

	if !store.ValidStreamName(stream) {
		s.reply(w, kind, http.StatusBadRequest, errorResponse{Error: "invalid stream name"})
		return
	}

	var (
		events []model.DisplayEvent
		err    error
	)
	switch kind {
	case "invalid":
		s.reply(w, kind, http.StatusBadRequest, errorResponse{Error: "tx and block are mutually exclusive"})
		return
	case "tx":
		hash, perr := parseTxHash(txParam)
		if perr != nil {
			s.reply(w, kind, http.StatusBadRequest, errorResponse{Error: perr.Error()})
			return
		}
		events, err = s.reader.QueryByTxHash(r.Context(), stream, hash)
	case "block":
		block, perr := strconv.ParseUint(blockParam, 10, 64)
		if perr != nil {
			s.reply(w, kind, http.StatusBadRequest, errorResponse{Error: "block must be a non-negative integer"})
			return
		}
		events, err = s.reader.QueryByBlock(r.Context(), stream, block)
	default:
		events, err = s.reader.QueryAll(r.Context(), stream)
	}

	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("query failed", zap.String("stream", stream), zap.String("kind", kind), zap.Error(err))
		}
		s.reply(w, kind, status, errorResponse{Error: http.StatusText(status)})
		return
	}
	s.reply(w, kind, http.StatusOK, eventsResponse{Stream: stream, Events: events})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) reply(w http.ResponseWriter, kind string, status int, v interface{}) {
	metrics.QueryRequests.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	writeJSON(w, status, v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrSchema):
		return http.StatusNotFound
	case errors.Is(err, store.ErrStoreUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseTxHash(input string) (common.Hash, error) {
	input = strings.TrimSpace(input)
	data, err := hexutil.Decode(input)
	if err != nil || len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("tx must be a 0x-prefixed 32-byte hash")
	}
	return common.BytesToHash(data), nil
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
