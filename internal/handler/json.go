package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// inputError is a malformed or incomplete request. Its message is returned
// to the client as is.
type inputError struct{ msg string }

func (e *inputError) Error() string { return e.msg }

func invalidInput(format string, args ...any) error {
	return &inputError{msg: fmt.Sprintf(format, args...)}
}

// decodeObject reads the request body as a JSON object and calls fn per
// field. An empty body decodes as {} when optional is set.
func decodeObject(w http.ResponseWriter, r *http.Request, optional bool, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return invalidInput("request body exceeds %d bytes", tooLarge.Limit)
		}
		return errors.Wrap(err, "read body")
	}
	if len(body) == 0 {
		if optional {
			return nil
		}
		return invalidInput("request body is required")
	}

	if err := jx.DecodeBytes(body).Obj(fn); err != nil {
		var in *inputError
		if errors.As(err, &in) {
			return in
		}
		return invalidInput("malformed JSON: %v", err)
	}
	return nil
}

func decodeDecimal(d *jx.Decoder, field string) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	default:
		return decimal.Zero, invalidInput("%s must be a decimal", field)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, invalidInput("%s must be a decimal", field)
	}
	return v, nil
}

func decodeTime(d *jx.Decoder, field string) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, invalidInput("%s must be an RFC 3339 timestamp", field)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, invalidInput("%s must be an RFC 3339 timestamp", field)
	}
	return t, nil
}

func decodeInt(d *jx.Decoder, field string) (int, error) {
	if d.Next() != jx.Number {
		return 0, invalidInput("%s must be an integer", field)
	}
	v, err := d.Int()
	if err != nil {
		return 0, invalidInput("%s must be an integer", field)
	}
	return v, nil
}

func decodeString(d *jx.Decoder, field string) (string, error) {
	if d.Next() != jx.String {
		return "", invalidInput("%s must be a string", field)
	}
	return d.Str()
}

func decodeBool(d *jx.Decoder, field string) (bool, error) {
	if d.Next() != jx.Bool {
		return false, invalidInput("%s must be a boolean", field)
	}
	return d.Bool()
}

// writeJSON writes status and the object built by enc.
func writeJSON(w http.ResponseWriter, status int, enc func(e *jx.Encoder)) {
	var e jx.Encoder
	enc(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// Money is rendered as a string with two decimals so clients never see
// binary floating point.
func encodeMoney(e *jx.Encoder, field string, d decimal.Decimal) {
	e.FieldStart(field)
	e.Str(d.StringFixed(2))
}

func encodeTime(e *jx.Encoder, field string, t time.Time) {
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeStr(e *jx.Encoder, field, v string) {
	e.FieldStart(field)
	e.Str(v)
}

func encodeInt(e *jx.Encoder, field string, v int) {
	e.FieldStart(field)
	e.Int(v)
}

func encodeBool(e *jx.Encoder, field string, v bool) {
	e.FieldStart(field)
	e.Bool(v)
}
