package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/discount"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// errForbidden is returned when the caller's role lacks the capability.
var errForbidden = errors.New("operation not permitted for this role")

var errorStatuses = []struct {
	err    error
	status int
}{
	{auth.ErrUnauthenticated, http.StatusUnauthorized},
	{errForbidden, http.StatusForbidden},
	{order.ErrForbidden, http.StatusForbidden},

	{order.ErrNotFound, http.StatusNotFound},
	{product.ErrNotFound, http.StatusNotFound},
	{cart.ErrLineNotFound, http.StatusNotFound},

	{order.ErrStatusConflict, http.StatusConflict},
	{order.ErrCheckoutInProgress, http.StatusConflict},
	{discount.ErrDuplicate, http.StatusConflict},

	{order.ErrUnknownStatus, http.StatusBadRequest},
	{order.ErrInvalidTransition, http.StatusBadRequest},
	{cart.ErrEmptyCart, http.StatusBadRequest},
	{cart.ErrProductUnavailable, http.StatusBadRequest},
	{cart.ErrInvalidQuantity, http.StatusBadRequest},
	{discount.ErrNotFound, http.StatusBadRequest},
	{discount.ErrInactive, http.StatusBadRequest},
	{discount.ErrExpired, http.StatusBadRequest},
	{discount.ErrBelowMinimum, http.StatusBadRequest},
	{discount.ErrUsageExhausted, http.StatusBadRequest},
	{discount.ErrNotFirstOrder, http.StatusBadRequest},
	{discount.ErrInvalidTotal, http.StatusBadRequest},
	{discount.ErrInvalidCode, http.StatusBadRequest},
}

// statusOf maps an error to its HTTP status. Unknown errors are 500.
func statusOf(err error) int {
	var in *inputError
	if errors.As(err, &in) {
		return http.StatusBadRequest
	}
	var nf errNotFound
	if errors.As(err, &nf) {
		return http.StatusNotFound
	}
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// fail writes err as a {code, message} body. Server errors are logged and
// their cause is not exposed.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httpmiddleware.WriteError(w, status, "internal error")
		return
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="kart"`)
	}
	httpmiddleware.WriteError(w, status, err.Error())
}
