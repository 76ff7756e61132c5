package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/domain/auth"
	"github.com/xenking/campus-canteen/internal/domain/cart"
	"github.com/xenking/campus-canteen/internal/domain/order"
)

// checkoutRequest may be empty; the payment method is optional.
type checkoutRequest struct {
	PaymentMethod string `json:"paymentMethod"`
}

// Checkout places the caller's cart as an order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req checkoutRequest
	if err := decodeOptional(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	s, release, err := h.carts.Session(r.Context(), p.UID)
	if err != nil {
		fail(w, r, err)
		return
	}
	defer release()

	placed, err := h.orders.Checkout(r.Context(), p, s, req.PaymentMethod)
	var saveErr *cart.SaveError
	switch {
	case errors.As(err, &saveErr):
		// The order exists; only clearing the stored cart failed.
		zctx.From(r.Context()).Warn("Cart not cleared after checkout", zap.Error(err))
	case err != nil:
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newOrderView(placed))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListForUser(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newOrderViews(orders))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newOrderView(o))
}

type statusRequest struct {
	Status order.Status `json:"status"`
}

// UpdateOrderStatus moves an order through its lifecycle.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if !req.Status.Valid() {
		fail(w, r, badRequest("unknown status "+string(req.Status)))
		return
	}
	o, err := h.orders.Transition(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "orderID"), req.Status)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newOrderView(o))
}

// ListCanteenOrders lists the orders of a canteen, optionally filtered by
// the status query parameter.
func (h *Handler) ListCanteenOrders(w http.ResponseWriter, r *http.Request) {
	status := order.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		fail(w, r, badRequest("unknown status "+string(status)))
		return
	}
	orders, err := h.orders.ListForCanteen(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "canteenID"), status)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newOrderViews(orders))
}

func (h *Handler) CanteenStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.orders.Stats(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "canteenID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	byStatus := st.ByStatus
	if byStatus == nil {
		byStatus = map[order.Status]int{}
	}
	writeJSON(w, r, http.StatusOK, statsView{
		CanteenID: st.CanteenID,
		Orders:    st.Orders,
		ByStatus:  byStatus,
		Revenue:   st.Revenue,
	})
}
