// Package handler exposes the checkout service over HTTP. Routes are
// registered on a net/http ServeMux; bodies are JSON encoded with jx and
// every error is rendered as {code, message}.
package handler

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/discount"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

// Carts is the cart service.
type Carts interface {
	List(ctx context.Context, userID string) (*cart.Snapshot, error)
	Add(ctx context.Context, userID, productID string, qty int) error
	SetQuantity(ctx context.Context, userID, productID string, qty int) error
	Remove(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) (int64, error)
}

// Orders is the order service.
type Orders interface {
	Checkout(ctx context.Context, req order.CheckoutRequest) (*order.Order, error)
	List(ctx context.Context, user auth.User) ([]order.Order, error)
	Get(ctx context.Context, user auth.User, id string) (*order.Order, error)
	UpdateStatus(ctx context.Context, user auth.User, id, status string) (*order.Order, error)
}

// Discounts is the discount ledger.
type Discounts interface {
	Check(ctx context.Context, code, userID string, orderTotal decimal.Decimal) (*discount.Code, error)
	Create(ctx context.Context, c discount.Code) (*discount.Code, error)
	List(ctx context.Context) ([]discount.Code, error)
	Deactivate(ctx context.Context, code string) error
}

// Handler serves the /api routes.
type Handler struct {
	products  product.Repository
	carts     Carts
	orders    Orders
	discounts Discounts
	security  *Security
}

// New constructs a Handler with the required domain dependencies.
func New(
	products product.Repository,
	carts Carts,
	orders Orders,
	discounts Discounts,
	security *Security,
) *Handler {
	return &Handler{
		products:  products,
		carts:     carts,
		orders:    orders,
		discounts: discounts,
		security:  security,
	}
}

// Register adds every API route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/products", h.public(h.listProducts))
	mux.Handle("GET /api/products/{id}", h.public(h.getProduct))

	mux.Handle("GET /api/cart", h.secure(h.getCart, auth.ActionManageCart))
	mux.Handle("POST /api/cart", h.secure(h.addToCart, auth.ActionManageCart))
	mux.Handle("DELETE /api/cart", h.secure(h.clearCart, auth.ActionManageCart))
	mux.Handle("PATCH /api/cart/{productID}", h.secure(h.setCartQuantity, auth.ActionManageCart))
	mux.Handle("DELETE /api/cart/{productID}", h.secure(h.removeFromCart, auth.ActionManageCart))

	mux.Handle("POST /api/orders", h.secure(h.checkout, auth.ActionCheckout))
	mux.Handle("GET /api/orders", h.secure(h.listOrders, auth.ActionViewOrders))
	mux.Handle("GET /api/orders/{id}", h.secure(h.getOrder, auth.ActionViewOrders))
	mux.Handle("PATCH /api/orders/{id}/status",
		h.secure(h.updateOrderStatus, auth.ActionUpdateOrderStatus, auth.ActionCancelOrder))

	mux.Handle("POST /api/discount-codes/validate", h.secure(h.validateDiscount, auth.ActionValidateDiscount))
	mux.Handle("GET /api/discount-codes", h.secure(h.listDiscounts, auth.ActionManageDiscounts))
	mux.Handle("POST /api/discount-codes", h.secure(h.createDiscount, auth.ActionManageDiscounts))
	mux.Handle("POST /api/discount-codes/{code}/deactivate", h.secure(h.deactivateDiscount, auth.ActionManageDiscounts))
}

type publicFunc func(w http.ResponseWriter, r *http.Request) error

type userFunc func(w http.ResponseWriter, r *http.Request, user auth.User) error

func (h *Handler) public(fn publicFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			fail(w, r, err)
		}
	})
}

// secure authenticates the caller and requires any one of actions.
func (h *Handler) secure(fn userFunc, actions ...auth.Action) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.security.Authenticate(r.Context(), credential(r))
		if err != nil {
			fail(w, r, err)
			return
		}
		if !canAny(user, actions) {
			fail(w, r, errForbidden)
			return
		}
		ctx := auth.WithUser(r.Context(), user)
		if err := fn(w, r.WithContext(ctx), user); err != nil {
			fail(w, r, err)
		}
	})
}

func canAny(user auth.User, actions []auth.Action) bool {
	for _, a := range actions {
		if user.Can(a) {
			return true
		}
	}
	return false
}
