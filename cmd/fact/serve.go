package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bahamondeX/fact/src/concurrent"
	"github.com/bahamondeX/fact/src/rag"
	"github.com/bahamondeX/fact/src/runtime"
)

const (
	shutdownTimeout = 5 * time.Second
	queueTimeout    = 2 * time.Second
)

func (a *app) serveCmd() *cobra.Command {
	var (
		addr        string
		maxInflight int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve memory operations over HTTP as NDJSON chunk streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRuntime(cmd, func(ctx context.Context, rt *runtime.Runtime) error {
				return listen(ctx, newServer(rt, maxInflight), addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().IntVar(&maxInflight, "max-inflight", 10, "Operations run concurrently before callers are turned away")
	return cmd
}

type server struct {
	rt      *runtime.Runtime
	log     logrus.FieldLogger
	limiter *concurrent.Limiter
	wait    time.Duration
}

func newServer(rt *runtime.Runtime, maxInflight int) *server {
	return &server{
		rt:      rt,
		log:     rt.Logger().WithField("component", "http"),
		limiter: concurrent.NewLimiter(maxInflight),
		wait:    queueTimeout,
	}
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/tool", s.handleTool).Methods(http.MethodGet)
	r.HandleFunc("/v1/memory", s.handleMemory).Methods(http.MethodPost)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleTool(w http.ResponseWriter, _ *http.Request) {
	def, err := rag.ToolDefinition(rag.DefaultToolName, rag.DefaultToolDescription)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// handleMemory runs one Operation and streams its chunks, one JSON object per
// line. The request context drives the operation, so a client disconnect
// cancels it.
func (s *server) handleMemory(w http.ResponseWriter, r *http.Request) {
	var op rag.Operation
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&op); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "decode operation: " + err.Error()})
		return
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), s.wait)
	defer cancel()

	started := false
	err := s.limiter.Do(waitCtx, func() error {
		started = true
		return s.stream(w, r, op)
	})
	if started {
		if err != nil && r.Context().Err() == nil {
			s.log.WithError(err).Warn("stream aborted")
		}
		return
	}
	if r.Context().Err() != nil {
		return
	}
	w.Header().Set("Retry-After", "1")
	writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many operations in flight"})
}

func (s *server) stream(w http.ResponseWriter, r *http.Request, op rag.Operation) error {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for chunk, err := range s.rt.Run(r.Context(), op) {
		if err != nil {
			return err
		}
		if err := enc.Encode(chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// listen serves until ctx is cancelled, then drains in-flight requests.
func listen(ctx context.Context, s *server, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("shutdown")
		}
	}()

	s.log.WithField("addr", addr).Info("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
