package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request, user auth.User) error {
	return h.writeCart(w, r, user, http.StatusOK)
}

// addToCart adds quantity (default 1) of a product, incrementing an existing
// line.
func (h *Handler) addToCart(w http.ResponseWriter, r *http.Request, user auth.User) error {
	var (
		productID string
		qty       = 1
	)
	err := decodeObject(w, r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			productID, err = decodeString(d, key)
		case "quantity":
			qty, err = decodeInt(d, key)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return err
	}
	if productID == "" {
		return invalidInput("product_id is required")
	}

	if err := h.carts.Add(r.Context(), user.ID, productID, qty); err != nil {
		return err
	}
	return h.writeCart(w, r, user, http.StatusCreated)
}

func (h *Handler) setCartQuantity(w http.ResponseWriter, r *http.Request, user auth.User) error {
	qty := -1
	err := decodeObject(w, r, false, func(d *jx.Decoder, key string) error {
		if key == "quantity" {
			var err error
			qty, err = decodeInt(d, key)
			return err
		}
		return d.Skip()
	})
	if err != nil {
		return err
	}
	if qty == -1 {
		return invalidInput("quantity is required")
	}

	if err := h.carts.SetQuantity(r.Context(), user.ID, r.PathValue("productID"), qty); err != nil {
		return err
	}
	return h.writeCart(w, r, user, http.StatusOK)
}

func (h *Handler) removeFromCart(w http.ResponseWriter, r *http.Request, user auth.User) error {
	if err := h.carts.Remove(r.Context(), user.ID, r.PathValue("productID")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request, user auth.User) error {
	n, err := h.carts.Clear(r.Context(), user.ID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("removed")
		e.Int64(n)
		e.ObjEnd()
	})
	return nil
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, user auth.User, status int) error {
	snap, err := h.carts.List(r.Context(), user.ID)
	if err != nil {
		return err
	}
	writeJSON(w, status, func(e *jx.Encoder) { encodeCart(e, snap) })
	return nil
}

func encodeCart(e *jx.Encoder, s *cart.Snapshot) {
	e.ObjStart()
	encodeStr(e, "user_id", s.UserID)
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range s.Lines {
		e.ObjStart()
		encodeStr(e, "product_id", l.ProductID)
		encodeStr(e, "name", l.Name)
		encodeInt(e, "quantity", l.Quantity)
		encodeMoney(e, "unit_price", l.UnitPrice)
		encodeMoney(e, "subtotal", l.Subtotal())
		e.ObjEnd()
	}
	e.ArrEnd()
	encodeMoney(e, "total", s.Total)
	e.ObjEnd()
}
