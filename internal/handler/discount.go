package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/discount"
)

// validateDiscount previews a code against an order total without using it.
func (h *Handler) validateDiscount(w http.ResponseWriter, r *http.Request, user auth.User) error {
	var (
		code  string
		total = decimal.Zero
	)
	err := decodeObject(w, r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = decodeString(d, key)
		case "order_total":
			total, err = decodeDecimal(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return err
	}
	if code == "" {
		return invalidInput("code is required")
	}

	c, err := h.discounts.Check(r.Context(), code, user.ID, total)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDiscount(e, c) })
	return nil
}

func (h *Handler) listDiscounts(w http.ResponseWriter, r *http.Request, _ auth.User) error {
	codes, err := h.discounts.List(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range codes {
			encodeDiscount(e, &codes[i])
		}
		e.ArrEnd()
	})
	return nil
}

func (h *Handler) createDiscount(w http.ResponseWriter, r *http.Request, _ auth.User) error {
	var c discount.Code
	err := decodeObject(w, r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			c.Code, err = decodeString(d, key)
		case "discount_amount":
			c.Amount, err = decodeDecimal(d, key)
		case "valid_from":
			c.ValidFrom, err = decodeTime(d, key)
		case "valid_until":
			c.ValidUntil, err = decodeTime(d, key)
		case "is_first_order_only":
			c.FirstOrderOnly, err = decodeBool(d, key)
		case "min_order_value":
			c.MinOrderValue, err = decodeDecimal(d, key)
		case "max_usage":
			c.MaxUsage, err = decodeInt(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return err
	}

	created, err := h.discounts.Create(r.Context(), c)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeDiscount(e, created) })
	return nil
}

func (h *Handler) deactivateDiscount(w http.ResponseWriter, r *http.Request, _ auth.User) error {
	err := h.discounts.Deactivate(r.Context(), r.PathValue("code"))
	switch {
	case errors.Is(err, discount.ErrNotFound):
		// Outside checkout a missing code is a missing resource.
		return errNotFound{err}
	case err != nil:
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// errNotFound forces a 404 for an error that maps to 400 elsewhere.
type errNotFound struct{ error }

func (e errNotFound) Unwrap() error { return e.error }

func encodeDiscount(e *jx.Encoder, c *discount.Code) {
	e.ObjStart()
	encodeStr(e, "code", c.Code)
	encodeMoney(e, "discount_amount", c.Amount)
	encodeBool(e, "is_active", c.Active)
	encodeTime(e, "valid_from", c.ValidFrom)
	encodeTime(e, "valid_until", c.ValidUntil)
	encodeBool(e, "is_first_order_only", c.FirstOrderOnly)
	encodeMoney(e, "min_order_value", c.MinOrderValue)
	encodeInt(e, "max_usage", c.MaxUsage)
	encodeInt(e, "usage_count", c.UsageCount)
	if !c.CreatedAt.IsZero() {
		encodeTime(e, "created_at", c.CreatedAt)
	}
	e.ObjEnd()
}
