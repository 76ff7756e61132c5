package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/domain/cart"
)

// session returns the cart session of the caller and its release func.
func (h *Handler) session(r *http.Request) (*cart.Session, func(), error) {
	p, err := principal(r)
	if err != nil {
		return nil, nil, err
	}
	return h.carts.Session(r.Context(), p.UID)
}

// respondCart writes the cart after a mutation. A failed save is reported in
// the body, not as an error: the change is kept for the session.
func respondCart(w http.ResponseWriter, r *http.Request, s *cart.Session, err error) {
	var saveErr *cart.SaveError
	if err != nil && !errors.As(err, &saveErr) {
		fail(w, r, err)
		return
	}
	if saveErr != nil {
		zctx.From(r.Context()).Warn("Cart change not persisted", zap.Error(saveErr))
	}
	writeJSON(w, r, http.StatusOK, newCartView(s, saveErr == nil))
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, release, err := h.session(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	defer release()
	writeJSON(w, r, http.StatusOK, newCartView(s, true))
}

type addCartItemRequest struct {
	CanteenID string `json:"canteenId"`
	ItemID    string `json:"itemId"`
	Quantity  int    `json:"quantity"`
}

// AddCartItem adds a menu item, priced from the catalog, to the cart.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	s, release, err := h.session(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	defer release()
	var req addCartItemRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.CanteenID == "" || req.ItemID == "" {
		fail(w, r, badRequest("canteenId and itemId are required"))
		return
	}
	if req.Quantity < 0 {
		fail(w, r, badRequest("quantity must not be negative"))
		return
	}

	ctx := r.Context()
	c, err := h.catalog.GetCanteen(ctx, req.CanteenID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if !c.IsActive || !c.IsTakingOrders {
		fail(w, r, errors.Wrap(errNotTaking, c.Name))
		return
	}
	item, err := h.catalog.GetMenuItem(ctx, req.CanteenID, req.ItemID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if !item.IsAvailable {
		fail(w, r, errors.Wrap(errUnavailable, item.Name))
		return
	}

	err = s.Add(ctx, item.Line(c), req.Quantity)
	respondCart(w, r, s, err)
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

// UpdateCartItem sets the quantity of a line; zero removes it.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	s, release, err := h.session(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	defer release()
	var req updateCartItemRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.Quantity == nil {
		fail(w, r, badRequest("quantity is required"))
		return
	}
	err = s.UpdateQuantity(r.Context(), chi.URLParam(r, "itemID"), *req.Quantity)
	respondCart(w, r, s, err)
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	s, release, err := h.session(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	defer release()
	err = s.Remove(r.Context(), chi.URLParam(r, "itemID"))
	respondCart(w, r, s, err)
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	s, release, err := h.session(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	defer release()
	err = s.Clear(r.Context())
	respondCart(w, r, s, err)
}
