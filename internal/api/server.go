package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"ghost-systems/internal/models"
	"ghost-systems/internal/ratelimit"
	"ghost-systems/internal/store"
	"ghost-systems/internal/telemetry"
)

// JobStore is what the API reads and writes directly.
type JobStore interface {
	CreateJob(ctx context.Context, job models.Job) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	AuditTrail(ctx context.Context, jobID string) ([]models.AuditLog, error)
}

type Publisher interface {
	Publish(ctx context.Context) (models.Job, bool, error)
}

type ReviewReader interface {
	Peek(ctx context.Context, n int64) ([]string, error)
	Len(ctx context.Context) (int64, error)
}

type Limiter interface {
	Take(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the producer API.
type Server struct {
	store     JobStore
	publisher Publisher
	review    ReviewReader
	limiter   Limiter
	log       logrus.FieldLogger
}

// New constructs the API server. review and limiter may be nil.
func New(st JobStore, pub Publisher, review ReviewReader, limiter Limiter, log logrus.FieldLogger) *Server {
	return &Server{
		store:     st,
		publisher: pub,
		review:    review,
		limiter:   limiter,
		log:       log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/products", func(r chi.Router) {
		r.With(s.rateLimited).Post("/generate", s.handleGenerate)
		r.With(s.rateLimited).Post("/", s.handleCreate)
		r.Get("/{id}", s.handleGet)
	})
	r.Get("/review", s.handleReview)
	return r
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		client := clientFromRequest(r)
		d, err := s.limiter.Take(r.Context(), client)
		if err != nil {
			s.log.WithError(err).WithField("client", client).Error("rate limiter unavailable")
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type publishResponse struct {
	Job     models.Job `json:"job"`
	Created bool       `json:"created"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	job, created, err := s.publisher.Publish(r.Context())
	if err != nil {
		s.log.WithError(err).Error("generate failed")
		http.Error(w, "generate failed", http.StatusInternalServerError)
		return
	}
	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	writeJSON(w, code, publishResponse{Job: job, Created: created})
}

// handleCreate accepts a hand-written product job, e.g. a physical item with artwork.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var job models.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if job.Status != "" {
		status, err := models.ParseStatus(string(job.Status))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if status != models.StatusPending {
			http.Error(w, "new jobs must be pending", http.StatusBadRequest)
			return
		}
	}
	job.ID = ""
	job.Status = models.StatusPending
	if job.Source == "" {
		job.Source = "api"
	}
	if err := job.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := s.store.CreateJob(r.Context(), job)
	if errors.Is(err, store.ErrDuplicateSKU) {
		http.Error(w, "sku already exists", http.StatusConflict)
		return
	}
	if err != nil {
		s.log.WithError(err).Error("create job failed")
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, publishResponse{Job: created, Created: true})
}

type jobResponse struct {
	Job   models.Job        `json:"job"`
	Audit []models.AuditLog `json:"audit"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	trail, err := s.store.AuditTrail(r.Context(), id)
	if err != nil {
		s.log.WithError(err).WithField("job_id", id).Warn("audit trail unavailable")
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job, Audit: trail})
}

// handleReview lists failed job ids awaiting an operator.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if s.review == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []string{}, "total": 0})
		return
	}
	limit := int64(100)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	items, err := s.review.Peek(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to read review list", http.StatusInternalServerError)
		return
	}
	total, err := s.review.Len(r.Context())
	if err != nil {
		http.Error(w, "failed to read review list", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func clientFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
