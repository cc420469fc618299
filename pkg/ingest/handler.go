package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/jobq/pkg/clientip"
	"github.com/dmitrymomot/jobq/pkg/idempotency"
	"github.com/dmitrymomot/jobq/pkg/logger"
	"github.com/dmitrymomot/jobq/pkg/queue"
	"github.com/dmitrymomot/jobq/pkg/ratelimiter"
	"github.com/dmitrymomot/jobq/pkg/requestid"
	"github.com/dmitrymomot/jobq/pkg/secrets"
)

// HookPrefix prefixes the hook name of every inbound job: source "github"
// schedules hook "inbound.github".
const HookPrefix = "inbound."

// maxSourceLength bounds the {source} path segment
const maxSourceLength = 64

// Scheduler enqueues an encoded payload. *queue.Queue implements it.
type Scheduler interface {
	ScheduleRaw(ctx context.Context, hookName string, raw json.RawMessage, priority queue.Priority, delay time.Duration, opts ...queue.ScheduleOption) (uuid.UUID, error)
}

// Handler accepts signed events on POST /events/{source} and turns each into
// one job. Redelivered events are acknowledged without scheduling again.
type Handler struct {
	scheduler Scheduler
	claimer   *idempotency.Claimer
	limiter   ratelimiter.RateLimiter
	resolver  *clientip.Resolver
	master    []byte
	sources   []string
	maxBody   int64
	maxAge    time.Duration
	priority  queue.Priority
	eventID   string
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithSources restricts the accepted sources. Others get 404.
func WithSources(sources ...string) Option {
	return func(h *Handler) { h.sources = slices.Clone(sources) }
}

// WithMaxBodyBytes sets the payload ceiling
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// WithSignatureMaxAge bounds the age of the signed timestamp. Zero disables the check.
func WithSignatureMaxAge(d time.Duration) Option {
	return func(h *Handler) {
		if d >= 0 {
			h.maxAge = d
		}
	}
}

// WithPriority sets the priority of scheduled jobs
func WithPriority(p queue.Priority) Option {
	return func(h *Handler) {
		if p.Valid() {
			h.priority = p
		}
	}
}

// WithEventIDHeader sets the header holding the sender's event ID
func WithEventIDHeader(name string) Option {
	return func(h *Handler) {
		if name != "" {
			h.eventID = name
		}
	}
}

// WithIPResolver sets how the sender address is found for rate limiting
func WithIPResolver(r *clientip.Resolver) Option {
	return func(h *Handler) {
		if r != nil {
			h.resolver = r
		}
	}
}

// WithClock overrides the time source used for signature checks
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates the ingest handler. master is the 32-byte key per-source signing
// keys are derived from.
func New(scheduler Scheduler, claimer *idempotency.Claimer, limiter ratelimiter.RateLimiter, master []byte, opts ...Option) (*Handler, error) {
	if scheduler == nil {
		return nil, ErrSchedulerNil
	}
	if claimer == nil {
		return nil, ErrClaimerNil
	}
	if limiter == nil {
		return nil, ErrLimiterNil
	}
	if len(master) != secrets.KeySize {
		return nil, secrets.ErrInvalidKeySize
	}

	h := &Handler{
		scheduler: scheduler,
		claimer:   claimer,
		limiter:   limiter,
		resolver:  clientip.NewResolver(),
		master:    slices.Clone(master),
		maxBody:   1 << 20,
		maxAge:    5 * time.Minute,
		priority:  queue.PriorityNormal,
		eventID:   "X-Webhook-ID",
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

// Routes returns the router. The sender rate limit runs before the body is
// read so floods are turned away cheaply. Senders are limited per source and
// client IP, so one noisy integration cannot starve another behind the same proxy.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestid.Middleware())
	r.Use(h.resolver.Middleware)
	r.With(ratelimiter.Middleware(h.limiter, ratelimiter.Composite(h.limitSource, h.resolver.Key))).
		Post("/events/{source}", h.handleEvent)
	return r
}

// limitSource keys the sender limit by source. Names that will be rejected share
// one bucket so rotating bogus sources does not escape the limit.
func (h *Handler) limitSource(r *http.Request) string {
	source := chi.URLParam(r, "source")
	if !h.knownSource(source) {
		return "unknown"
	}
	return source
}

func (h *Handler) knownSource(source string) bool {
	return validSource(source) && (len(h.sources) == 0 || slices.Contains(h.sources, source))
}

// SourceKey returns the signing key a source must use
func (h *Handler) SourceKey(source string) ([]byte, error) {
	return secrets.DeriveKey(h.master, source)
}

type response struct {
	Status string    `json:"status"`
	JobID  uuid.UUID `json:"job_id,omitzero"`
	Error  string    `json:"error,omitempty"`
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := chi.URLParam(r, "source")
	if !h.knownSource(source) {
		writeJSON(w, http.StatusNotFound, response{Status: "rejected", Error: "unknown source"})
		return
	}
	log := h.logger.With(logger.Source(source))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, response{Status: "rejected", Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, response{Status: "rejected", Error: "unreadable body"})
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, response{Status: "rejected", Error: "empty body"})
		return
	}

	key, err := h.SourceKey(source)
	if err != nil {
		log.ErrorContext(ctx, "failed to derive source key", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, response{Status: "error"})
		return
	}
	if err := Verify(key, r.Header, body, h.now(), h.maxAge); err != nil {
		log.WarnContext(ctx, "rejected event signature", logger.Error(err))
		writeJSON(w, http.StatusUnauthorized, response{Status: "rejected", Error: "invalid signature"})
		return
	}

	eventID := r.Header.Get(h.eventID)
	if eventID == "" {
		writeJSON(w, http.StatusBadRequest, response{Status: "rejected", Error: "missing event id"})
		return
	}
	log = log.With(logger.EventID(eventID))
	claimKey := source + ":" + eventID

	token, claimed, err := h.claimer.Claim(ctx, claimKey)
	if err != nil {
		log.ErrorContext(ctx, "failed to claim event", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, response{Status: "error"})
		return
	}
	if !claimed {
		// Already handled or in flight: acknowledge so the sender stops redelivering
		writeJSON(w, http.StatusOK, response{Status: "duplicate"})
		return
	}

	jobID, err := h.scheduler.ScheduleRaw(ctx, HookPrefix+source, body, h.priority, 0)
	if err != nil {
		// Free the event so a redelivery can try again
		if relErr := h.claimer.Release(ctx, claimKey, token); relErr != nil {
			log.ErrorContext(ctx, "failed to release event claim", logger.Error(relErr))
		}
		if errors.Is(err, queue.ErrInvalidPayload) {
			writeJSON(w, http.StatusBadRequest, response{Status: "rejected", Error: "payload must be a JSON object"})
			return
		}
		log.ErrorContext(ctx, "failed to schedule event", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, response{Status: "error"})
		return
	}

	if err := h.claimer.Complete(ctx, claimKey, token); err != nil {
		// The job exists; an expiring processing claim still blocks redeliveries until its TTL
		log.ErrorContext(ctx, "failed to complete event claim", logger.Error(err), logger.JobID(jobID))
	}

	log.InfoContext(ctx, "event accepted", logger.JobID(jobID))
	writeJSON(w, http.StatusAccepted, response{Status: "accepted", JobID: jobID})
}

// validSource accepts 1..64 characters of [a-z0-9_-]
func validSource(s string) bool {
	if s == "" || len(s) > maxSourceLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
