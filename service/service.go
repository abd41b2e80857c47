// Package service implements payment-link generation and validation on top
// of a record store.
//
// The service owns three policies: how identifiers are chosen (caller
// supplied, or 6 random bytes hex-encoded), how long a link lives (a number
// of minutes, defaulting to DefaultExpiry), and what the redemption link
// looks like (the configured base URL with amount and id query parameters).
package service

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shohanonfire/payment-server/models"
	"github.com/shohanonfire/payment-server/store"
)

// DefaultExpiry is used when a request carries no usable expiry.
const DefaultExpiry = 30 * time.Minute

// MaxExpiry caps caller-supplied expiries.
const MaxExpiry = 10 * 365 * 24 * time.Hour

// MaxIDLength is the longest caller-supplied identifier, in bytes.
const MaxIDLength = 256

// idBytes is the number of random bytes in a generated identifier.
const idBytes = 6

// maxAmountLength bounds the amount text.
const maxAmountLength = 32

// maxExponent bounds the decimal exponent of an expiry before any arithmetic
// is done on it.
const maxExponent = 18

// plainDecimal matches amounts such as "10", "10.00" or "0.5".
var plainDecimal = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

var (
	// ErrInvalidInput is returned for missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingAmount is returned when the amount is empty.
	ErrMissingAmount = fmt.Errorf("%w: missing amount", ErrInvalidInput)
	// ErrInvalidAmount is returned when the amount is not a positive plain decimal.
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrInvalidInput)
	// ErrInvalidID is returned when a requested identifier exceeds MaxIDLength.
	ErrInvalidID = fmt.Errorf("%w: invalid id", ErrInvalidInput)
)

// Reason explains a negative validation result.
type Reason string

const (
	ReasonMissingID   Reason = "missing id"
	ReasonNotFound    Reason = "not found"
	ReasonExpired     Reason = "expired"
	ReasonServerError Reason = "server error"
)

// Config is fixed at construction.
type Config struct {
	// BaseURL is the page that redeems links, e.g. https://pay.example.com.
	BaseURL string

	// DefaultExpiry overrides the package default when positive.
	DefaultExpiry time.Duration
}

// Service issues and validates payment records.
type Service struct {
	store  store.Store
	base   *url.URL
	expiry time.Duration
	logger *zap.Logger
	now    func() time.Time
	nextID store.IDSource
}

// Option customises a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDSource replaces the random identifier generator.
func WithIDSource(next store.IDSource) Option {
	return func(s *Service) { s.nextID = next }
}

// New returns a Service over st. It fails if cfg.BaseURL is not an absolute URL.
func New(st store.Store, cfg Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	expiry := cfg.DefaultExpiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:  st,
		base:   base,
		expiry: expiry,
		logger: logger,
		now:    time.Now,
		nextID: RandomID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RandomID returns 6 random bytes hex-encoded (12 characters).
func RandomID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateRequest carries raw caller input. Fields are text so the HTTP and
// CLI adapters can pass through whatever the caller sent.
type GenerateRequest struct {
	Amount        string
	ExpiryMinutes string
	ID            string
}

// GenerateResult is returned for a newly created record.
type GenerateResult struct {
	ID        string `json:"id"`
	Link      string `json:"link"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Generate creates a record and returns its identifier and redemption link.
//
// A blank ID (after trimming) asks for a generated identifier. A taken ID
// fails with store.ErrConflict and leaves the existing record alone.
func (s *Service) Generate(req GenerateRequest) (GenerateResult, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return GenerateResult{}, err
	}

	id := strings.TrimSpace(req.ID)
	if len(id) > MaxIDLength {
		return GenerateResult{}, ErrInvalidID
	}

	expiry := s.parseExpiry(req.ExpiryMinutes)
	now := s.now()
	rec := models.Record{
		Amount:    amount,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(expiry).UnixMilli(),
	}

	id, err = s.store.Insert(id, rec, s.nextID)
	if err != nil {
		if store.IsStorageError(err) {
			s.logger.Error("generate failed", zap.Error(err))
		}
		return GenerateResult{}, err
	}

	s.logger.Info("record created",
		zap.String("id", id),
		zap.String("amount", amount),
		zap.Int64("expiresAt", rec.ExpiresAt),
	)

	return GenerateResult{
		ID:        id,
		Link:      s.Link(amount, id),
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Link builds the redemption URL for a record.
func (s *Service) Link(amount, id string) string {
	u := *s.base
	if u.Path == "" {
		u.Path = "/"
	}
	q := "amount=" + escape(amount) + "&id=" + escape(id)
	if u.RawQuery != "" {
		q = u.RawQuery + "&" + q
	}
	u.RawQuery = q
	return u.String()
}

// escape percent-encodes a query component, spaces included.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// Result is the outcome of Validate.
type Result struct {
	Valid     bool   `json:"valid"`
	Amount    string `json:"amount,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Reason    Reason `json:"error,omitempty"`
}

// Validate looks up id and reports whether it can be redeemed now. It never
// writes, so repeated calls return the same result until the record expires.
//
// A storage failure yields ReasonServerError together with the error.
func (s *Service) Validate(id string) (Result, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Result{Reason: ReasonMissingID}, nil
	}

	rec, err := s.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return Result{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		s.logger.Error("validate failed", zap.String("id", id), zap.Error(err))
		return Result{Reason: ReasonServerError}, err
	}

	if rec.State(s.now()) == models.Expired {
		return Result{Reason: ReasonExpired}, nil
	}
	return Result{Valid: true, Amount: rec.Amount, ExpiresAt: rec.ExpiresAt}, nil
}

// List returns every stored record, expired ones included.
func (s *Service) List() (models.Mapping, error) {
	return s.store.Load()
}

// Purge removes records that expired more than retention ago.
func (s *Service) Purge(retention time.Duration) (int, error) {
	if retention < 0 {
		retention = 0
	}
	cutoff := s.now().Add(-retention).UnixMilli()
	return s.store.PurgeExpired(cutoff)
}

func parseAmount(raw string) (string, error) {
	amount := strings.TrimSpace(raw)
	if amount == "" {
		return "", ErrMissingAmount
	}
	if len(amount) > maxAmountLength || !plainDecimal.MatchString(amount) {
		return "", ErrInvalidAmount
	}
	d, err := decimal.NewFromString(amount)
	if err != nil || !d.IsPositive() {
		return "", ErrInvalidAmount
	}
	return amount, nil
}

// parseExpiry turns a minutes value into a duration. Anything that is not a
// positive number falls back to the configured default. The exponent must be
// within ±maxExponent before any comparison or arithmetic touches it.
func (s *Service) parseExpiry(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 64 {
		return s.expiry
	}
	minutes, err := decimal.NewFromString(raw)
	if err != nil || !minutes.IsPositive() {
		return s.expiry
	}
	if exp := minutes.Exponent(); exp > maxExponent {
		return MaxExpiry
	} else if exp < -maxExponent {
		return s.expiry
	}
	ms := minutes.Mul(decimal.NewFromInt(time.Minute.Milliseconds()))
	if ms.LessThan(decimal.NewFromInt(1)) {
		return s.expiry
	}
	if ms.GreaterThan(decimal.NewFromInt(MaxExpiry.Milliseconds())) {
		return MaxExpiry
	}
	return time.Duration(ms.IntPart()) * time.Millisecond
}
