package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// HeaderIdempotencyKey deduplicates checkout retries.
const HeaderIdempotencyKey = "Idempotency-Key"

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, user auth.User) error {
	req := order.CheckoutRequest{
		User:           user,
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	}
	err := decodeObject(w, r, true, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "discount_code":
			if d.Next() == jx.Null {
				return d.Null()
			}
			req.DiscountCode, err = decodeString(d, key)
		case "shipping_address":
			req.ShippingAddress, err = decodeString(d, key)
		case "payment_method":
			req.PaymentMethod, err = decodeString(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return err
	}
	if len(req.IdempotencyKey) > 255 {
		return invalidInput("%s must be at most 255 bytes", HeaderIdempotencyKey)
	}

	o, err := h.orders.Checkout(r.Context(), req)
	if err != nil {
		return err
	}
	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
	return nil
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, user auth.User) error {
	orders, err := h.orders.List(r.Context(), user)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
	return nil
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, user auth.User) error {
	o, err := h.orders.Get(r.Context(), user, r.PathValue("id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
	return nil
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request, user auth.User) error {
	var status string
	err := decodeObject(w, r, false, func(d *jx.Decoder, key string) error {
		if key == "status" {
			var err error
			status, err = decodeString(d, key)
			return err
		}
		return d.Skip()
	})
	if err != nil {
		return err
	}
	if status == "" {
		return invalidInput("status is required")
	}

	o, err := h.orders.UpdateStatus(r.Context(), user, r.PathValue("id"), status)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
	return nil
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	encodeStr(e, "id", o.ID)
	encodeStr(e, "user_id", o.UserID)
	encodeStr(e, "status", string(o.Status))
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range o.Lines {
		e.ObjStart()
		e.FieldStart("product_id")
		if l.ProductID == "" {
			e.Null()
		} else {
			e.Str(l.ProductID)
		}
		encodeStr(e, "name", l.Name)
		encodeInt(e, "quantity", l.Quantity)
		encodeMoney(e, "price", l.UnitPrice)
		e.ObjEnd()
	}
	e.ArrEnd()
	encodeMoney(e, "subtotal", o.Subtotal())
	e.FieldStart("discount_code")
	if o.DiscountCode == "" {
		e.Null()
	} else {
		e.Str(o.DiscountCode)
	}
	encodeMoney(e, "discount_amount", o.DiscountAmount)
	encodeMoney(e, "total_price", o.Total)
	encodeStr(e, "shipping_address", o.ShippingAddress)
	encodeStr(e, "payment_method", o.PaymentMethod)
	encodeTime(e, "created_at", o.CreatedAt)
	encodeTime(e, "updated_at", o.UpdatedAt)
	e.ObjEnd()
}
