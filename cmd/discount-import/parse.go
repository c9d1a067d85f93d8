package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/discount"
)

// Columns of a campaign file, header optional:
//
//	code,discount_amount,min_order_value,max_usage,valid_from,valid_until,first_order_only
const numColumns = 7

const dateLayout = "2006-01-02"

// parseRecord turns one CSV record into a code definition.
func parseRecord(rec []string) (discount.Code, error) {
	if len(rec) != numColumns {
		return discount.Code{}, errors.Errorf("want %d columns, got %d", numColumns, len(rec))
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}

	c := discount.Code{Code: discount.Normalize(rec[0])}
	if c.Code == "" {
		return c, errors.New("empty code")
	}

	var err error
	if c.Amount, err = decimal.NewFromString(rec[1]); err != nil {
		return c, errors.Wrap(err, "discount_amount")
	}
	if rec[2] != "" {
		if c.MinOrderValue, err = decimal.NewFromString(rec[2]); err != nil {
			return c, errors.Wrap(err, "min_order_value")
		}
	}
	if rec[3] != "" {
		if c.MaxUsage, err = strconv.Atoi(rec[3]); err != nil {
			return c, errors.Wrap(err, "max_usage")
		}
	}
	if c.ValidFrom, err = parseDate(rec[4]); err != nil {
		return c, errors.Wrap(err, "valid_from")
	}
	if c.ValidUntil, err = parseDate(rec[5]); err != nil {
		return c, errors.Wrap(err, "valid_until")
	}
	if rec[6] != "" {
		if c.FirstOrderOnly, err = strconv.ParseBool(rec[6]); err != nil {
			return c, errors.Wrap(err, "first_order_only")
		}
	}

	switch {
	case c.Amount.IsNegative(), c.MinOrderValue.IsNegative(), c.MaxUsage < 0:
		return c, errors.New("negative value")
	case c.ValidFrom.After(c.ValidUntil):
		return c, errors.New("valid_from is after valid_until")
	}
	return c, nil
}

// parseDate accepts RFC 3339 or a bare date, which means midnight UTC.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(dateLayout, s)
}

// streamFile decodes a gzip compressed CSV campaign file and calls fn per
// valid record. Malformed records are counted, not fatal.
func streamFile(ctx context.Context, path string, fn func(c discount.Code) error) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return streamRecords(ctx, gz, fn)
}

func streamRecords(ctx context.Context, r io.Reader, fn func(c discount.Code) error) (skipped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return skipped, nil
		}
		if err != nil {
			return skipped, errors.Wrapf(err, "read line %d", line)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "code") {
			continue
		}

		c, err := parseRecord(rec)
		if err != nil {
			skipped++
			continue
		}
		if err := fn(c); err != nil {
			return skipped, err
		}
	}
}
