package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/campus-canteen/internal/domain/auth"
	"github.com/xenking/campus-canteen/internal/domain/catalog"
)

func (h *Handler) ListCanteens(w http.ResponseWriter, r *http.Request) {
	canteens, err := h.catalog.ListCanteens(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]canteenView, len(canteens))
	for i := range canteens {
		out[i] = newCanteenView(&canteens[i])
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (h *Handler) GetCanteen(w http.ResponseWriter, r *http.Request) {
	c, err := h.catalog.GetCanteen(r.Context(), chi.URLParam(r, "canteenID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newCanteenView(c))
}

func (h *Handler) CreateCanteen(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req catalog.Canteen
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.catalog.CreateCanteen(r.Context(), p, req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newCanteenView(c))
}

func (h *Handler) UpdateCanteen(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var patch catalog.CanteenPatch
	if err := decode(r, &patch); err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.catalog.UpdateCanteen(r.Context(), p, chi.URLParam(r, "canteenID"), patch)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newCanteenView(c))
}

func (h *Handler) DeactivateCanteen(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.catalog.DeactivateCanteen(r.Context(), p, chi.URLParam(r, "canteenID")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type takingOrdersRequest struct {
	IsTakingOrders *bool `json:"isTakingOrders"`
}

func (h *Handler) SetTakingOrders(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req takingOrdersRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.IsTakingOrders == nil {
		fail(w, r, badRequest("isTakingOrders is required"))
		return
	}
	id := chi.URLParam(r, "canteenID")
	if err := h.catalog.SetTakingOrders(r.Context(), p, id, *req.IsTakingOrders); err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.catalog.GetCanteen(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newCanteenView(c))
}

func (h *Handler) ListMenu(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListMenu(r.Context(), chi.URLParam(r, "canteenID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]menuItemView, len(items))
	for i := range items {
		out[i] = newMenuItemView(&items[i])
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (h *Handler) AddMenuItem(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var req catalog.MenuItem
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	m, err := h.catalog.AddMenuItem(r.Context(), p, chi.URLParam(r, "canteenID"), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newMenuItemView(m))
}

func (h *Handler) UpdateMenuItem(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var patch catalog.MenuItemPatch
	if err := decode(r, &patch); err != nil {
		fail(w, r, err)
		return
	}
	m, err := h.catalog.UpdateMenuItem(r.Context(), p,
		chi.URLParam(r, "canteenID"), chi.URLParam(r, "itemID"), patch)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newMenuItemView(m))
}

func (h *Handler) RemoveMenuItem(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	err = h.catalog.RemoveMenuItem(r.Context(), p, chi.URLParam(r, "canteenID"), chi.URLParam(r, "itemID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterCanteen files a canteen registration. Signing in is optional.
func (h *Handler) RegisterCanteen(w http.ResponseWriter, r *http.Request) {
	var req catalog.Registration
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	reg, err := h.catalog.RegisterCanteen(r.Context(), auth.FromContext(r.Context()), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, registrationView{ID: reg.ID, Registration: reg})
}

func (h *Handler) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	regs, err := h.catalog.ListRegistrations(r.Context(), p)
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]registrationView, len(regs))
	for i := range regs {
		out[i] = registrationView{ID: regs[i].ID, Registration: &regs[i]}
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (h *Handler) ApproveCanteen(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.catalog.ApproveCanteen(r.Context(), p, chi.URLParam(r, "registrationID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newCanteenView(c))
}

func (h *Handler) RejectCanteen(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := h.catalog.RejectCanteen(r.Context(), p, chi.URLParam(r, "registrationID")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
