package discount

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// memCodes is an in-memory Repository. IncrementUsage is a real
// compare-and-swap so concurrent reservations can be exercised.
type memCodes struct {
	mu      sync.Mutex
	codes   map[string]*Code
	findErr error
}

func newMemCodes(codes ...Code) *memCodes {
	m := &memCodes{codes: make(map[string]*Code, len(codes))}
	for i := range codes {
		c := codes[i]
		m.codes[c.Code] = &c
	}
	return m
}

func (m *memCodes) FindByCode(_ context.Context, code string) (*Code, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCodes) FindForUpdate(ctx context.Context, code string) (*Code, error) {
	return m.FindByCode(ctx, code)
}

func (m *memCodes) IncrementUsage(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return false, nil
	}
	if c.MaxUsage > 0 && c.UsageCount >= c.MaxUsage {
		return false, nil
	}
	c.UsageCount++
	return true, nil
}

func (m *memCodes) Create(_ context.Context, c *Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[c.Code]; ok {
		return ErrDuplicate
	}
	cp := *c
	m.codes[c.Code] = &cp
	return nil
}

func (m *memCodes) List(_ context.Context) ([]Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Code, 0, len(m.codes))
	for _, c := range m.codes {
		out = append(out, *c)
	}
	return out, nil
}

func (m *memCodes) Deactivate(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return ErrNotFound
	}
	c.Active = false
	return nil
}

func (m *memCodes) usage(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[code].UsageCount
}

type mockHistory struct {
	fulfilled map[string]bool
	err       error
}

func (m *mockHistory) HasFulfilledOrder(_ context.Context, userID string) (bool, error) {
	return m.fulfilled[userID], m.err
}

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func activeCode(code string) Code {
	return Code{
		Code:          code,
		Amount:        dec("30.00"),
		Active:        true,
		ValidFrom:     fixedNow.Add(-24 * time.Hour),
		ValidUntil:    fixedNow.Add(24 * time.Hour),
		MinOrderValue: dec("50.00"),
	}
}

func newTestLedger(codes *memCodes, history *mockHistory) *Ledger {
	if history == nil {
		history = &mockHistory{}
	}
	return NewLedger(codes, history, WithClock(clockwork.NewFakeClockAt(fixedNow)))
}

func TestLedger_Reserve(t *testing.T) {
	expired := activeCode("OLD")
	expired.ValidUntil = fixedNow.Add(-time.Hour)

	notYet := activeCode("SOON")
	notYet.ValidFrom = fixedNow.Add(time.Hour)

	startsNow := activeCode("OPENING")
	startsNow.ValidFrom = fixedNow

	endsNow := activeCode("CLOSING")
	endsNow.ValidUntil = fixedNow

	inactive := activeCode("OFF")
	inactive.Active = false

	exhausted := activeCode("GONE")
	exhausted.MaxUsage = 2
	exhausted.UsageCount = 2

	firstOnly := activeCode("WELCOME")
	firstOnly.FirstOrderOnly = true

	// Inactive and expired at once: the inactive check comes first.
	inactiveExpired := activeCode("DEAD")
	inactiveExpired.Active = false
	inactiveExpired.ValidUntil = fixedNow.Add(-time.Hour)

	tests := []struct {
		name      string
		code      string
		user      string
		total     string
		wantErr   error
		wantUsage int
	}{
		{name: "valid code reserves", code: "SAVE30", user: "u1", total: "100.00", wantUsage: 1},
		{name: "lower case input is normalized", code: " save30 ", user: "u1", total: "100.00", wantUsage: 1},
		{name: "unknown code", code: "NOPE", user: "u1", total: "100.00", wantErr: ErrNotFound},
		{name: "inactive", code: "OFF", user: "u1", total: "100.00", wantErr: ErrInactive},
		{name: "inactive wins over expired", code: "DEAD", user: "u1", total: "100.00", wantErr: ErrInactive},
		{name: "expired", code: "OLD", user: "u1", total: "100.00", wantErr: ErrExpired},
		{name: "not yet valid", code: "SOON", user: "u1", total: "100.00", wantErr: ErrExpired},
		{name: "valid from is inclusive", code: "OPENING", user: "u1", total: "100.00", wantUsage: 1},
		{name: "valid until is inclusive", code: "CLOSING", user: "u1", total: "100.00", wantUsage: 1},
		{name: "below minimum", code: "SAVE30", user: "u1", total: "40.00", wantErr: ErrBelowMinimum},
		{name: "exactly minimum", code: "SAVE30", user: "u1", total: "50.00", wantUsage: 1},
		{name: "usage exhausted", code: "GONE", user: "u1", total: "100.00", wantErr: ErrUsageExhausted, wantUsage: 2},
		{name: "first order accepted", code: "WELCOME", user: "new", total: "100.00", wantUsage: 1},
		{name: "first order rejected", code: "WELCOME", user: "repeat", total: "100.00", wantErr: ErrNotFirstOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes := newMemCodes(activeCode("SAVE30"), expired, notYet, startsNow, endsNow, inactive, exhausted, firstOnly, inactiveExpired)
			history := &mockHistory{fulfilled: map[string]bool{"repeat": true}}
			l := newTestLedger(codes, history)

			r, err := l.Reserve(context.Background(), tt.code, tt.user, dec(tt.total))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, r)
			} else {
				require.NoError(t, err)
				assert.Equal(t, Normalize(tt.code), r.Code)
				assert.True(t, dec("30.00").Equal(r.Amount))
			}

			if c, ok := codes.codes[Normalize(tt.code)]; ok {
				assert.Equal(t, tt.wantUsage, c.UsageCount)
			}
		})
	}
}

func TestLedger_Reserve_RepositoryError(t *testing.T) {
	codes := newMemCodes()
	codes.findErr = errors.New("connection reset")
	l := newTestLedger(codes, nil)

	_, err := l.Reserve(context.Background(), "ANY", "u1", dec("10"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "lookup discount code")
}

func TestLedger_Reserve_HistoryError(t *testing.T) {
	c := activeCode("WELCOME")
	c.FirstOrderOnly = true
	codes := newMemCodes(c)
	l := newTestLedger(codes, &mockHistory{err: errors.New("timeout")})

	_, err := l.Reserve(context.Background(), "WELCOME", "u1", dec("100"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check order history")
	assert.Equal(t, 0, codes.usage("WELCOME"))
}

func TestLedger_Reserve_NoOverRedemption(t *testing.T) {
	const (
		maxUsage = 5
		extra    = 7
	)
	c := activeCode("LIMITED")
	c.MaxUsage = maxUsage
	codes := newMemCodes(c)
	l := newTestLedger(codes, nil)

	var succeeded, exhausted atomic.Int32
	var g errgroup.Group
	for range maxUsage + extra {
		g.Go(func() error {
			_, err := l.Reserve(context.Background(), "LIMITED", "u1", dec("100"))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrUsageExhausted):
				exhausted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, maxUsage, succeeded.Load())
	assert.EqualValues(t, extra, exhausted.Load())
	assert.Equal(t, maxUsage, codes.usage("LIMITED"))
}

func TestLedger_Check(t *testing.T) {
	codes := newMemCodes(activeCode("SAVE30"))
	l := newTestLedger(codes, nil)

	t.Run("valid code does not consume a use", func(t *testing.T) {
		c, err := l.Check(context.Background(), "SAVE30", "u1", dec("100"))
		require.NoError(t, err)
		assert.Equal(t, "SAVE30", c.Code)
		assert.Equal(t, 0, codes.usage("SAVE30"))
	})

	t.Run("negative total", func(t *testing.T) {
		_, err := l.Check(context.Background(), "SAVE30", "u1", dec("-1"))
		require.ErrorIs(t, err, ErrInvalidTotal)
	})

	t.Run("below minimum", func(t *testing.T) {
		_, err := l.Check(context.Background(), "SAVE30", "u1", dec("40"))
		require.ErrorIs(t, err, ErrBelowMinimum)
	})
}

func TestLedger_Create(t *testing.T) {
	l := newTestLedger(newMemCodes(activeCode("TAKEN")), nil)

	t.Run("creates active code with defaults", func(t *testing.T) {
		c, err := l.Create(context.Background(), Code{
			Code:       "spring10",
			Amount:     dec("10"),
			ValidUntil: fixedNow.Add(48 * time.Hour),
			MaxUsage:   3,
		})
		require.NoError(t, err)
		assert.Equal(t, "SPRING10", c.Code)
		assert.True(t, c.Active)
		assert.Equal(t, 0, c.UsageCount)
		assert.True(t, c.ValidFrom.Equal(fixedNow))
	})

	invalid := []struct {
		name string
		code Code
	}{
		{"empty code", Code{Amount: dec("1"), ValidUntil: fixedNow}},
		{"negative amount", Code{Code: "X", Amount: dec("-1"), ValidUntil: fixedNow}},
		{"negative minimum", Code{Code: "X", MinOrderValue: dec("-1"), ValidUntil: fixedNow}},
		{"negative max usage", Code{Code: "X", MaxUsage: -1, ValidUntil: fixedNow}},
		{"missing valid_until", Code{Code: "X"}},
		{"inverted window", Code{Code: "X", ValidFrom: fixedNow, ValidUntil: fixedNow.Add(-time.Second)}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Create(context.Background(), tt.code)
			require.ErrorIs(t, err, ErrInvalidCode)
		})
	}

	t.Run("duplicate", func(t *testing.T) {
		_, err := l.Create(context.Background(), Code{Code: "taken", ValidUntil: fixedNow.Add(time.Hour)})
		require.ErrorIs(t, err, ErrDuplicate)
	})
}

func TestLedger_Deactivate(t *testing.T) {
	codes := newMemCodes(activeCode("SAVE30"))
	l := newTestLedger(codes, nil)

	require.NoError(t, l.Deactivate(context.Background(), "save30"))
	_, err := l.Reserve(context.Background(), "SAVE30", "u1", dec("100"))
	require.ErrorIs(t, err, ErrInactive)

	require.ErrorIs(t, l.Deactivate(context.Background(), "MISSING"), ErrNotFound)
}
