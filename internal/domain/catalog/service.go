package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/docstore"
	"github.com/xenking/campus-canteen/internal/domain/auth"
)

// Service reads and edits the catalog. Reads are public; canteen writes need
// an admin and menu writes need an admin or the staff of the canteen.
type Service struct {
	docs docstore.Store
	lg   *zap.Logger
}

func NewService(docs docstore.Store, lg *zap.Logger) *Service {
	return &Service{docs: docs, lg: lg}
}

// ListCanteens returns the active canteens ordered by name.
func (s *Service) ListCanteens(ctx context.Context) ([]Canteen, error) {
	docs, err := s.docs.Find(ctx, docstore.Query{Collection: CanteenCollection}.
		Where("isActive", true).
		SortBy("name", false))
	if err != nil {
		return nil, storeErr("find canteens", err)
	}
	out := make([]Canteen, 0, len(docs))
	for _, d := range docs {
		c, err := decodeCanteen(d)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// GetCanteen returns a canteen, active or not.
func (s *Service) GetCanteen(ctx context.Context, id string) (*Canteen, error) {
	doc, err := s.docs.Get(ctx, CanteenCollection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "canteen %s", id)
	}
	if err != nil {
		return nil, storeErr("get canteen", err)
	}
	return decodeCanteen(*doc)
}

// CreateCanteen registers an active canteen.
func (s *Service) CreateCanteen(ctx context.Context, p *auth.Principal, c Canteen) (*Canteen, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.IsActive = true
	id, err := s.docs.Add(ctx, CanteenCollection, canteenRecord{
		Canteen:   &c,
		CreatedAt: docstore.ServerTimestamp,
		UpdatedAt: docstore.ServerTimestamp,
	})
	if err != nil {
		return nil, storeErr("add canteen", err)
	}
	s.lg.Info("Canteen created", zap.String("canteen_id", id), zap.String("name", c.Name))
	return s.GetCanteen(ctx, id)
}

// DeactivateCanteen hides a canteen from listings.
func (s *Service) DeactivateCanteen(ctx context.Context, p *auth.Principal, id string) error {
	if !p.IsAdmin() {
		return ErrForbidden
	}
	return s.update(ctx, CanteenCollection, id, map[string]any{
		"isActive":  false,
		"updatedAt": docstore.ServerTimestamp,
	})
}

// UpdateCanteen applies patch to a canteen. Admins may edit any canteen,
// staff only their own.
func (s *Service) UpdateCanteen(ctx context.Context, p *auth.Principal, id string, patch CanteenPatch) (*Canteen, error) {
	if !p.CanManageCanteen(id) {
		return nil, ErrForbidden
	}
	fields, err := patch.fields()
	if err != nil {
		return nil, err
	}
	if err := s.update(ctx, CanteenCollection, id, fields); err != nil {
		return nil, err
	}
	return s.GetCanteen(ctx, id)
}

// SetTakingOrders opens or pauses ordering at a canteen.
func (s *Service) SetTakingOrders(ctx context.Context, p *auth.Principal, id string, taking bool) error {
	if !p.CanManageCanteen(id) {
		return ErrForbidden
	}
	return s.update(ctx, CanteenCollection, id, map[string]any{
		"isTakingOrders": taking,
		"updatedAt":      docstore.ServerTimestamp,
	})
}

// ListMenu returns the available items of a canteen, newest first.
func (s *Service) ListMenu(ctx context.Context, canteenID string) ([]MenuItem, error) {
	docs, err := s.docs.Find(ctx, docstore.Query{Collection: MenuCollection(canteenID)}.
		Where("isAvailable", true).
		SortBy("createdAt", true))
	if err != nil {
		return nil, storeErr("find menu items", err)
	}
	out := make([]MenuItem, 0, len(docs))
	for _, d := range docs {
		m, err := decodeMenuItem(canteenID, d)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// GetMenuItem returns an item, available or not.
func (s *Service) GetMenuItem(ctx context.Context, canteenID, itemID string) (*MenuItem, error) {
	doc, err := s.docs.Get(ctx, MenuCollection(canteenID), itemID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "menu item %s", itemID)
	}
	if err != nil {
		return nil, storeErr("get menu item", err)
	}
	return decodeMenuItem(canteenID, *doc)
}

// AddMenuItem adds an available item to an existing canteen.
func (s *Service) AddMenuItem(ctx context.Context, p *auth.Principal, canteenID string, m MenuItem) (*MenuItem, error) {
	ids, err := s.AddMenuItems(ctx, p, canteenID, []MenuItem{m})
	if err != nil {
		return nil, err
	}
	return s.GetMenuItem(ctx, canteenID, ids[0])
}

// AddMenuItems adds several items to a canteen. Every item is validated
// before the first one is written.
func (s *Service) AddMenuItems(ctx context.Context, p *auth.Principal, canteenID string, items []MenuItem) ([]string, error) {
	if !p.CanManageCanteen(canteenID) {
		return nil, ErrForbidden
	}
	for i := range items {
		if err := items[i].validate(); err != nil {
			return nil, errors.Wrapf(err, "item %d", i)
		}
	}
	if _, err := s.GetCanteen(ctx, canteenID); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(items))
	for i := range items {
		m := items[i]
		m.IsAvailable = true
		id, err := s.docs.Add(ctx, MenuCollection(canteenID), menuItemRecord{
			MenuItem:  &m,
			CreatedAt: docstore.ServerTimestamp,
			UpdatedAt: docstore.ServerTimestamp,
		})
		if err != nil {
			return ids, storeErr(fmt.Sprintf("add menu item %q", m.Name), err)
		}
		ids = append(ids, id)
	}
	s.lg.Info("Menu items added", zap.String("canteen_id", canteenID), zap.Int("count", len(ids)))
	return ids, nil
}

// UpdateMenuItem applies patch to an item.
func (s *Service) UpdateMenuItem(ctx context.Context, p *auth.Principal, canteenID, itemID string, patch MenuItemPatch) (*MenuItem, error) {
	if !p.CanManageCanteen(canteenID) {
		return nil, ErrForbidden
	}
	fields, err := patch.fields()
	if err != nil {
		return nil, err
	}
	if err := s.update(ctx, MenuCollection(canteenID), itemID, fields); err != nil {
		return nil, err
	}
	return s.GetMenuItem(ctx, canteenID, itemID)
}

// RemoveMenuItem marks an item unavailable.
func (s *Service) RemoveMenuItem(ctx context.Context, p *auth.Principal, canteenID, itemID string) error {
	if !p.CanManageCanteen(canteenID) {
		return ErrForbidden
	}
	return s.update(ctx, MenuCollection(canteenID), itemID, map[string]any{
		"isAvailable": false,
		"updatedAt":   docstore.ServerTimestamp,
	})
}

func (s *Service) update(ctx context.Context, collection, id string, fields map[string]any) error {
	err := s.docs.Update(ctx, collection, id, fields)
	if errors.Is(err, docstore.ErrNotFound) {
		return errors.Wrapf(ErrNotFound, "%s/%s", collection, id)
	}
	if err != nil {
		return storeErr("update "+collection+"/"+id, err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return &docstore.OpError{Op: op, Err: err}
}
