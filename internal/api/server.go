// Package api exposes the HTTP interface for the tracker service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mfukuda/fleawatch/internal/metrics"
	"github.com/mfukuda/fleawatch/internal/tracker"
)

// Tracker is the service surface the HTTP layer drives.
type Tracker interface {
	Track(ctx context.Context, rawURL string) (tracker.TrackResult, error)
	Search(ctx context.Context, keyword string) ([]tracker.CollectedItem, error)
	CheckAll(ctx context.Context) (tracker.Summary, error)
	ListProducts(ctx context.Context) ([]tracker.ProductSummary, error)
	History(ctx context.Context, productID int64) ([]tracker.PricePoint, error)
	Delete(ctx context.Context, productID int64) error
}

// Server wires HTTP handlers to the tracker service.
type Server struct {
	router  chi.Router
	tracker Tracker
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(t Tracker, logger *zap.Logger) *Server {
	s := &Server{tracker: t, logger: logger}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(5 * time.Minute))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/track", s.track)
		r.Get("/search", s.search)
		r.Post("/check", s.check)
		r.Route("/products", func(r chi.Router) {
			r.Get("/", s.listProducts)
			r.Route("/{product_id}", func(r chi.Router) {
				r.Get("/history", s.history)
				r.Delete("/", s.deleteProduct)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type trackRequest struct {
	URL string `json:"url"`
}

func (s *Server) track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "missing listing url")
		return
	}
	result, err := s.tracker.Track(r.Context(), req.URL)
	if err != nil {
		s.writeTrackError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"product": result.Product,
		"price":   result.Price,
	})
}

func (s *Server) writeTrackError(w http.ResponseWriter, err error) {
	var extractErr *tracker.ExtractionError
	switch {
	case errors.Is(err, tracker.ErrInvalidListingURL):
		s.writeError(w, http.StatusBadRequest, "listing url has no recognizable item id")
	case errors.Is(err, tracker.ErrSoldOutListing):
		s.writeError(w, http.StatusConflict, "listing is already sold out")
	case errors.As(err, &extractErr):
		s.writeError(w, http.StatusBadGateway, "listing page could not be read: "+extractErr.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("keyword")
	if keyword == "" {
		s.writeError(w, http.StatusBadRequest, "missing keyword")
		return
	}
	items, err := s.tracker.Search(r.Context(), keyword)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []tracker.CollectedItem{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	sum, err := s.tracker.CheckAll(r.Context())
	if errors.Is(err, tracker.ErrCheckInProgress) {
		s.writeError(w, http.StatusConflict, "a check run is already in progress")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.tracker.ListProducts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if products == nil {
		products = []tracker.ProductSummary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id, ok := s.productID(w, r)
	if !ok {
		return
	}
	points, err := s.tracker.History(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if points == nil {
		points = []tracker.PricePoint{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"history": points})
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := s.productID(w, r)
	if !ok {
		return
	}
	err := s.tracker.Delete(r.Context(), id)
	if errors.Is(err, tracker.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "product_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid product id")
		return 0, false
	}
	return id, true
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
