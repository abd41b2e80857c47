// Package handlers is the HTTP adapter for the payment-link service.
//
//   - POST /api/generate – create a record, answer with id, link and expiry.
//   - GET  /api/validate – check an id; 400/404/410 carry the reason.
//   - GET  /admin/list   – dump every record; needs X-Admin-Key when configured.
//   - GET  /health       – liveness.
//
// Validation is a pure read and is safe to retry. Generation with a
// caller-chosen id is retry-safe in the sense that a replay answers 409
// instead of creating a second record.
package handlers

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/shohanonfire/payment-server/models"
	"github.com/shohanonfire/payment-server/service"
	"github.com/shohanonfire/payment-server/store"
)

// RecordService is what the handlers need from the service layer.
type RecordService interface {
	Generate(req service.GenerateRequest) (service.GenerateResult, error)
	Validate(id string) (service.Result, error)
	List() (models.Mapping, error)
}

// Options tunes the HTTP adapter.
type Options struct {
	AdminKey          string
	AllowOrigin       string
	GeneratePerMinute int
	Burst             int
}

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	svc     RecordService
	logger  *zap.Logger
	opts    Options
	limiter *ipLimiter
}

// New creates a Handler over svc.
func New(svc RecordService, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{svc: svc, logger: logger, opts: opts}
	if opts.GeneratePerMinute > 0 {
		h.limiter = newIPLimiter(opts.GeneratePerMinute, opts.Burst)
	}
	return h
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// flexString accepts a JSON string or number and keeps its text.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type generateBody struct {
	Amount        flexString `json:"amount"`
	ExpiryMinutes flexString `json:"expiryMinutes"`
	ID            flexString `json:"id"`
}

// generate handles POST /api/generate.
func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var body generateBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.svc.Generate(service.GenerateRequest{
		Amount:        string(body.Amount),
		ExpiryMinutes: string(body.ExpiryMinutes),
		ID:            string(body.ID),
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, service.ErrMissingAmount):
		writeError(w, http.StatusBadRequest, "missing amount")
	case errors.Is(err, service.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid id")
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid amount")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "id exists")
	default:
		h.logger.Error("generate", zap.Error(err), zap.String("request_id", RequestIDFrom(r.Context())))
		writeError(w, http.StatusInternalServerError, "server error")
	}
}

// validate handles GET /api/validate?id=.
func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Validate(r.URL.Query().Get("id"))
	if err != nil {
		h.logger.Error("validate", zap.Error(err), zap.String("request_id", RequestIDFrom(r.Context())))
	}
	writeJSON(w, validateStatus(res.Reason), res)
}

func validateStatus(reason service.Reason) int {
	switch reason {
	case "":
		return http.StatusOK
	case service.ReasonMissingID:
		return http.StatusBadRequest
	case service.ReasonNotFound:
		return http.StatusNotFound
	case service.ReasonExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// list handles GET /admin/list.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.List()
	if err != nil {
		h.logger.Error("list", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAdmin rejects requests without the configured admin key.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.opts.AdminKey == "" {
			next(w, r)
			return
		}
		got := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.opts.AdminKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// rateLimited throttles next per client IP when a limiter is configured.
func (h *Handler) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	if h.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !h.limiter.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(h.limiter.retryAfterSeconds()))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}
