// Package devserver is a local backend speaking the same HTTP contract the
// chat client expects, backed by sqlite.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"querychat/internal/api"
)

const Version = "0.1.0"

type Server struct {
	store     *Store
	responder Responder
	log       *zap.Logger
	newID     func() string
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func WithIDFunc(fn func() string) Option {
	return func(s *Server) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func NewServer(store *Store, responder Responder, opts ...Option) *Server {
	s := &Server{store: store, responder: responder, log: zap.NewNop(), newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/sql", s.handleSQL)
	mux.HandleFunc("GET /api/generate_session_id", s.handleSessionID)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return s.logRequests(allowAllOrigins(mux))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if !s.decode(w, r, &req) {
		return
	}
	sid := s.sessionOrNew(req.SessionID)
	reply, err := s.responder.Reply(r.Context(), sid, req.Message)
	if err != nil {
		s.log.Error("responder failed", zap.String("session_id", sid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "responder failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.ChatResponse{Response: reply, SessionID: sid})
}

func (s *Server) handleSQL(w http.ResponseWriter, r *http.Request) {
	var req api.SQLRequest
	if !s.decode(w, r, &req) {
		return
	}
	sid := s.sessionOrNew(req.SessionID)
	var result api.SQLResult
	if strings.TrimSpace(req.Query) == "" {
		result = api.SQLResult{Success: false, Error: "empty query"}
	} else {
		result = s.store.Exec(r.Context(), req.Query)
	}
	writeJSON(w, http.StatusOK, api.SQLResponse{Result: result, Query: req.Query, SessionID: sid})
}

func (s *Server) handleSessionID(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.SessionIDResponse{SessionID: s.newID()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "healthy", Version: Version})
}

func (s *Server) sessionOrNew(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return s.newID()
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func allowAllOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "*")
		h.Set("Access-Control-Allow-Headers", "*")
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.code),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, s *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("devserver listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
