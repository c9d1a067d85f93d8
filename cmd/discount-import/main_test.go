package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/discount"
)

func TestParseRecord(t *testing.T) {
	c, err := parseRecord([]string{" save30 ", "30", "50", "100", "2025-01-01", "2025-12-31T23:59:59Z", "true"})
	require.NoError(t, err)
	assert.Equal(t, "SAVE30", c.Code)
	assert.True(t, c.Amount.Equal(decimal.NewFromInt(30)))
	assert.True(t, c.MinOrderValue.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 100, c.MaxUsage)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), c.ValidFrom)
	assert.True(t, c.FirstOrderOnly)

	c, err = parseRecord([]string{"FREE", "5", "", "", "2025-01-01", "2025-02-01", ""})
	require.NoError(t, err)
	assert.True(t, c.MinOrderValue.IsZero())
	assert.Zero(t, c.MaxUsage)
	assert.False(t, c.FirstOrderOnly)

	for name, rec := range map[string][]string{
		"columns":  {"A", "1"},
		"empty":    {"", "1", "", "", "2025-01-01", "2025-02-01", ""},
		"amount":   {"A", "x", "", "", "2025-01-01", "2025-02-01", ""},
		"negative": {"A", "-1", "", "", "2025-01-01", "2025-02-01", ""},
		"window":   {"A", "1", "", "", "2025-03-01", "2025-02-01", ""},
		"date":     {"A", "1", "", "", "yesterday", "2025-02-01", ""},
		"bool":     {"A", "1", "", "", "2025-01-01", "2025-02-01", "maybe"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseRecord(rec)
			assert.Error(t, err)
		})
	}
}

func TestStreamRecords(t *testing.T) {
	in := strings.Join([]string{
		"code,discount_amount,min_order_value,max_usage,valid_from,valid_until,first_order_only",
		"A1,10,,,2025-01-01,2025-02-01,",
		"broken",
		"B2,5,20,3,2025-01-01,2025-02-01,false",
	}, "\n")

	var got []string
	skipped, err := streamRecords(context.Background(), strings.NewReader(in), func(c discount.Code) error {
		got = append(got, c.Code)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []string{"A1", "B2"}, got)
}

type recordingWriter struct {
	mu    sync.Mutex
	codes []string
}

func (w *recordingWriter) UpsertDiscounts(_ context.Context, codes []discount.Code) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range codes {
		w.codes = append(w.codes, c.Code)
	}
	return int64(len(codes)), nil
}

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestRun_SkipsCodesDefinedInSeveralFiles(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.csv.gz",
			"ONLYA,10,,,2025-01-01,2025-02-01,",
			"SHARED,10,,,2025-01-01,2025-02-01,",
			"bad,row",
		),
		writeGz(t, dir, "b.csv.gz",
			"ONLYB,15,,,2025-01-01,2025-02-01,",
			"shared,20,,,2025-01-01,2025-02-01,",
		),
	}

	w := &recordingWriter{}
	st, err := run(context.Background(), files, w)
	require.NoError(t, err)

	sort.Strings(w.codes)
	assert.Equal(t, []string{"ONLYA", "ONLYB"}, w.codes)
	assert.EqualValues(t, 2, st.written)
	assert.Equal(t, 1, st.ambiguous)
	assert.Equal(t, 1, st.malformed)
}

func TestRun_MissingFile(t *testing.T) {
	_, err := run(context.Background(), []string{filepath.Join(t.TempDir(), "nope.csv.gz")}, &recordingWriter{})
	assert.Error(t, err)
}
