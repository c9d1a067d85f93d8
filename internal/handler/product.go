package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) error {
	products, err := h.products.List(r.Context())
	if err != nil {
		return errors.Wrap(err, "list products")
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			encodeProduct(e, p)
		}
		e.ArrEnd()
	})
	return nil
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) error {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return product.ErrNotFound
		}
		return errors.Wrap(err, "get product")
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p) })
	return nil
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	encodeStr(e, "id", p.ID)
	encodeStr(e, "name", p.Name)
	encodeMoney(e, "price", p.Price)
	encodeStr(e, "seller_id", p.SellerID)
	encodeInt(e, "stock", p.Stock)
	e.ObjEnd()
}
