// Package server exposes the worker's small operational HTTP surface:
// health, metrics and the guideline cache.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/yourorg/policy-scan-worker/internal/apperr"
	"github.com/yourorg/policy-scan-worker/internal/guidelines"
	"github.com/yourorg/policy-scan-worker/internal/metrics"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// GuidelineCache is satisfied by *guidelines.Cache.
type GuidelineCache interface {
	Peek() (guidelines.Lookup, bool)
	ForceRefresh(ctx context.Context) (guidelines.Lookup, error)
	Window() time.Duration
}

type Server struct {
	db      Pinger
	cache   GuidelineCache
	metrics *metrics.Metrics
}

func New(db Pinger, cache GuidelineCache, m *metrics.Metrics) *Server {
	return &Server{db: db, cache: cache, metrics: m}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.cache != nil {
		mux.HandleFunc("GET /guidelines", s.guidelines)
		mux.HandleFunc("POST /guidelines/refresh", s.refresh)
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shctx)
	}()
	log.Printf("http: listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// healthz checks DB connectivity with a 2s timeout; 503 if unreachable.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			log.Printf("healthz: db ping failed: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "reason": "db unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type sectionView struct {
	Number string `json:"number,omitempty"`
	Title  string `json:"title"`
}

type guidelinesView struct {
	Cached        bool          `json:"cached"`
	Stale         bool          `json:"stale"`
	SourceURL     string        `json:"source_url,omitempty"`
	FetchedAt     *time.Time    `json:"fetched_at,omitempty"`
	AgeSeconds    float64       `json:"age_seconds"`
	WindowSeconds float64       `json:"window_seconds"`
	Sections      []sectionView `json:"sections,omitempty"`
}

// view reports lk; ok is false when there is no document at all.
func (s *Server) view(lk guidelines.Lookup, ok bool) guidelinesView {
	v := guidelinesView{WindowSeconds: s.cache.Window().Seconds()}
	if !ok || lk.Document == nil {
		return v
	}
	v.Cached = lk.Cached
	v.Stale = lk.Stale
	v.AgeSeconds = lk.Age.Seconds()
	v.SourceURL = lk.Document.SourceURL
	fetched := lk.Document.FetchedAt
	v.FetchedAt = &fetched
	for _, sec := range lk.Document.Sections {
		v.Sections = append(v.Sections, sectionView{Number: sec.Number, Title: sec.Title})
	}
	return v
}

func (s *Server) guidelines(w http.ResponseWriter, r *http.Request) {
	lk, ok := s.cache.Peek()
	writeJSON(w, http.StatusOK, s.view(lk, ok))
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	lk, err := s.cache.ForceRefresh(r.Context())
	if err != nil {
		log.Printf("guidelines refresh: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": err.Error(),
			"kind":  apperr.KindOf(err).String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, s.view(lk, true))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
