package service_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shohanonfire/payment-server/models"
	"github.com/shohanonfire/payment-server/service"
	"github.com/shohanonfire/payment-server/store"
)

const baseURL = "https://pay.example.com"

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T, opts ...service.Option) (*service.Service, store.Store, *clock) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}
	opts = append([]service.Option{service.WithClock(clk.Now)}, opts...)

	svc, err := service.New(st, service.Config{BaseURL: baseURL}, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return svc, st, clk
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	_, err := service.New(nil, service.Config{BaseURL: "/relative"}, nil)
	assert.Error(t, err)
}

func TestGenerateThenValidate(t *testing.T) {
	svc, _, clk := newTestService(t)

	res, err := svc.Generate(service.GenerateRequest{Amount: "10.00", ExpiryMinutes: "1"})
	require.NoError(t, err)
	assert.Len(t, res.ID, 12)
	assert.Equal(t, clk.Now().UnixMilli()+60_000, res.ExpiresAt)
	assert.Equal(t, baseURL+"/?amount=10.00&id="+res.ID, res.Link)

	got, err := svc.Validate(res.ID)
	require.NoError(t, err)
	assert.Equal(t, service.Result{Valid: true, Amount: "10.00", ExpiresAt: res.ExpiresAt}, got)

	clk.Advance(time.Minute)
	got, err = svc.Validate(res.ID)
	require.NoError(t, err)
	assert.True(t, got.Valid, "record is valid up to and including expiresAt")

	clk.Advance(time.Millisecond)
	got, err = svc.Validate(res.ID)
	require.NoError(t, err)
	assert.Equal(t, service.Result{Reason: service.ReasonExpired}, got)
}

func TestExpiredRecordStaysInStore(t *testing.T) {
	svc, st, clk := newTestService(t)

	res, err := svc.Generate(service.GenerateRequest{Amount: "3.00", ExpiryMinutes: "1"})
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	got, err := svc.Validate(res.ID)
	require.NoError(t, err)
	assert.Equal(t, service.ReasonExpired, got.Reason)

	rec, err := st.Get(res.ID)
	require.NoError(t, err)
	assert.Equal(t, "3.00", rec.Amount)
}

func TestValidateIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.Generate(service.GenerateRequest{Amount: "7.25"})
	require.NoError(t, err)

	first, err := svc.Validate(res.ID)
	require.NoError(t, err)
	second, err := svc.Validate(res.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestValidateMissingAndUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)

	got, err := svc.Validate("")
	require.NoError(t, err)
	assert.Equal(t, service.Result{Reason: service.ReasonMissingID}, got)

	got, err = svc.Validate("   ")
	require.NoError(t, err)
	assert.Equal(t, service.ReasonMissingID, got.Reason)

	got, err = svc.Validate("anything")
	require.NoError(t, err)
	assert.Equal(t, service.Result{Reason: service.ReasonNotFound}, got)
}

func TestGenerateRequestedIdentifierConflict(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.Generate(service.GenerateRequest{Amount: "5.00", ID: "promo1"})
	require.NoError(t, err)
	assert.Equal(t, "promo1", res.ID)

	_, err = svc.Generate(service.GenerateRequest{Amount: "6.00", ID: "promo1"})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := svc.Validate("promo1")
	require.NoError(t, err)
	assert.Equal(t, "5.00", got.Amount)
}

func TestGenerateTrimsRequestedIdentifier(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.Generate(service.GenerateRequest{Amount: "1", ID: "  vip  "})
	require.NoError(t, err)
	assert.Equal(t, "vip", res.ID)

	res, err = svc.Generate(service.GenerateRequest{Amount: "1", ID: "   "})
	require.NoError(t, err)
	assert.Len(t, res.ID, 12, "blank id falls back to a generated one")
}

func TestGenerateAmountValidation(t *testing.T) {
	svc, _, _ := newTestService(t)

	cases := map[string]string{
		"empty":      "",
		"blank":      "   ",
		"not number": "ten",
		"zero":       "0",
		"negative":   "-4.00",
		"exponent":   "1e3",
		"signed":     "+5",
		"too long":   "1" + strings.Repeat("0", 40),
	}
	for name, amount := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Generate(service.GenerateRequest{Amount: amount})
			assert.ErrorIs(t, err, service.ErrInvalidInput)
		})
	}

	res, err := svc.Generate(service.GenerateRequest{Amount: " 12.345 "})
	require.NoError(t, err)
	got, err := svc.Validate(res.ID)
	require.NoError(t, err)
	assert.Equal(t, "12.345", got.Amount)
}

func TestGenerateExpiryPolicy(t *testing.T) {
	svc, _, clk := newTestService(t)
	now := clk.Now().UnixMilli()
	def := service.DefaultExpiry.Milliseconds()

	cases := []struct {
		minutes string
		want    int64
	}{
		{"", now + def},
		{"abc", now + def},
		{"0", now + def},
		{"-5", now + def},
		{"1.5", now + 90_000},
		{"45", now + 45*60_000},
		{"99999999999", now + service.MaxExpiry.Milliseconds()},
		{"1e19", now + service.MaxExpiry.Milliseconds()},
		{"1e-19", now + def},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("minutes=%q", tc.minutes), func(t *testing.T) {
			res, err := svc.Generate(service.GenerateRequest{Amount: "1", ExpiryMinutes: tc.minutes})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.ExpiresAt)
		})
	}
}

func TestGenerateExtremeExpiryExponents(t *testing.T) {
	svc, _, clk := newTestService(t)
	now := clk.Now().UnixMilli()

	cases := map[string]int64{
		"1e2000000000":  now + service.MaxExpiry.Milliseconds(),
		"1e-2000000000": now + service.DefaultExpiry.Milliseconds(),
	}
	for minutes, want := range cases {
		t.Run(minutes, func(t *testing.T) {
			start := time.Now()
			res, err := svc.Generate(service.GenerateRequest{Amount: "1", ExpiryMinutes: minutes})
			require.NoError(t, err)
			assert.Equal(t, want, res.ExpiresAt)
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}

func TestGenerateRejectsLongIdentifier(t *testing.T) {
	svc, st, _ := newTestService(t)

	_, err := svc.Generate(service.GenerateRequest{Amount: "1", ID: strings.Repeat("a", 40000)})
	assert.ErrorIs(t, err, service.ErrInvalidID)
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	assert.False(t, store.IsStorageError(err))

	m, err := st.Load()
	require.NoError(t, err)
	assert.Empty(t, m)

	atLimit := strings.Repeat("b", service.MaxIDLength)
	res, err := svc.Generate(service.GenerateRequest{Amount: "1", ID: atLimit})
	require.NoError(t, err)
	assert.Equal(t, atLimit, res.ID)
}

func TestConfiguredDefaultExpiry(t *testing.T) {
	st, err := store.NewFile(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	now := time.UnixMilli(1_000_000)

	svc, err := service.New(st, service.Config{BaseURL: baseURL, DefaultExpiry: 5 * time.Minute}, nil,
		service.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	res, err := svc.Generate(service.GenerateRequest{Amount: "1"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(5*time.Minute).UnixMilli(), res.ExpiresAt)
}

func TestGenerateIdentifiersAreUnique(t *testing.T) {
	svc, st, _ := newTestService(t)

	const n = 200
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		res, err := svc.Generate(service.GenerateRequest{Amount: "1"})
		require.NoError(t, err)
		require.False(t, seen[res.ID], "duplicate id %s", res.ID)
		seen[res.ID] = true
	}

	m, err := st.Load()
	require.NoError(t, err)
	assert.Len(t, m, n)
}

func TestGenerateRedrawsOnCollision(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	var i int
	svc, _, _ := newTestService(t, service.WithIDSource(func() (string, error) {
		id := ids[i]
		i++
		return id, nil
	}))

	first, err := svc.Generate(service.GenerateRequest{Amount: "1"})
	require.NoError(t, err)
	assert.Equal(t, "dup", first.ID)

	second, err := svc.Generate(service.GenerateRequest{Amount: "2"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", second.ID)
}

func TestGenerateExhaustedRetries(t *testing.T) {
	svc, _, _ := newTestService(t, service.WithIDSource(func() (string, error) { return "same", nil }))

	_, err := svc.Generate(service.GenerateRequest{Amount: "1"})
	require.NoError(t, err)

	_, err = svc.Generate(service.GenerateRequest{Amount: "1"})
	assert.ErrorIs(t, err, store.ErrExhaustedRetries)
}

func TestLinkEncoding(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.Equal(t, baseURL+"/?amount=1.00&id=a%20b%26c", svc.Link("1.00", "a b&c"))

	st, err := store.NewFile(filepath.Join(t.TempDir(), "c.json"))
	require.NoError(t, err)
	withQuery, err := service.New(st, service.Config{BaseURL: "https://x.test/pay?lang=en"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://x.test/pay?lang=en&amount=2&id=k", withQuery.Link("2", "k"))
}

func TestRandomID(t *testing.T) {
	id, err := service.RandomID()
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{12}$`, id)
}

func TestListIncludesExpired(t *testing.T) {
	svc, _, clk := newTestService(t)

	_, err := svc.Generate(service.GenerateRequest{Amount: "1", ID: "a", ExpiryMinutes: "1"})
	require.NoError(t, err)
	_, err = svc.Generate(service.GenerateRequest{Amount: "2", ID: "b", ExpiryMinutes: "60"})
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	m, err := svc.List()
	require.NoError(t, err)
	assert.Len(t, m, 2)
}

func TestPurgeRespectsRetention(t *testing.T) {
	svc, st, clk := newTestService(t)

	_, err := svc.Generate(service.GenerateRequest{Amount: "1", ID: "short", ExpiryMinutes: "1"})
	require.NoError(t, err)
	_, err = svc.Generate(service.GenerateRequest{Amount: "2", ID: "long", ExpiryMinutes: "120"})
	require.NoError(t, err)

	clk.Advance(30 * time.Minute)

	removed, err := svc.Purge(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "short expired less than an hour ago")

	removed, err = svc.Purge(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = st.Get("short")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get("long")
	assert.NoError(t, err)
}

func TestPurgeLeavesLoggingToCaller(t *testing.T) {
	st, err := store.NewFile(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	require.NoError(t, st.Persist(models.Mapping{"old": {Amount: "1", ExpiresAt: 1}}))

	core, logs := observer.New(zap.DebugLevel)
	svc, err := service.New(st, service.Config{BaseURL: baseURL}, zap.New(core))
	require.NoError(t, err)

	removed, err := svc.Purge(0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, logs.Len())
}

// brokenStore fails every operation with a storage error.
type brokenStore struct{}

var errDisk = &store.StorageError{Op: "load", Err: errors.New("disk on fire")}

func (brokenStore) Load() (models.Mapping, error) { return nil, errDisk }
func (brokenStore) Persist(models.Mapping) error { return errDisk }
func (brokenStore) Get(string) (models.Record, error) { return models.Record{}, errDisk }
func (brokenStore) PurgeExpired(int64) (int, error) { return 0, errDisk }
func (brokenStore) Close() error { return nil }
func (brokenStore) Insert(string, models.Record, store.IDSource) (string, error) {
	return "", errDisk
}

func TestStorageFailures(t *testing.T) {
	svc, err := service.New(brokenStore{}, service.Config{BaseURL: baseURL}, zaptest.NewLogger(t))
	require.NoError(t, err)

	got, err := svc.Validate("x")
	assert.True(t, store.IsStorageError(err))
	assert.Equal(t, service.Result{Reason: service.ReasonServerError}, got)

	_, err = svc.Generate(service.GenerateRequest{Amount: "1"})
	assert.True(t, store.IsStorageError(err))

	_, err = svc.List()
	assert.True(t, store.IsStorageError(err))

	_, err = svc.Purge(0)
	assert.True(t, store.IsStorageError(err))
}
