package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/campus-canteen/internal/docstore"
	"github.com/xenking/campus-canteen/internal/domain/auth"
)

// RegistrationCollection holds canteen registrations awaiting review.
const RegistrationCollection = "pendingCanteens"

// RegistrationStatus is the review state of a registration.
type RegistrationStatus string

const (
	RegistrationPending  RegistrationStatus = "pending"
	RegistrationApproved RegistrationStatus = "approved"
	RegistrationRejected RegistrationStatus = "rejected"
)

// ErrReviewed is returned when a registration was already approved or
// rejected.
var ErrReviewed = errors.New("registration already reviewed")

// Registration is a request to onboard a canteen. A super admin approves it
// into a canteen with the same id, or rejects it.
type Registration struct {
	ID          string             `json:"-"`
	CanteenName string             `json:"canteenName"`
	Description string             `json:"description,omitempty"`
	Location    string             `json:"location,omitempty"`
	OpenTime    string             `json:"openTime,omitempty"`
	CloseTime   string             `json:"closeTime,omitempty"`
	StaffName   string             `json:"staffName"`
	StaffEmail  string             `json:"staffEmail"`
	StaffPhone  string             `json:"staffPhone,omitempty"`
	StaffRole   string             `json:"staffRole,omitempty"`
	Status      RegistrationStatus `json:"status"`
	// SubmittedBy is the uid of the submitting caller, if signed in.
	SubmittedBy string    `json:"submittedBy,omitempty"`
	ReviewedBy  string    `json:"reviewedBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (r *Registration) validate() error {
	switch {
	case r.CanteenName == "":
		return errors.Wrap(ErrInvalid, "canteen name is required")
	case r.StaffName == "":
		return errors.Wrap(ErrInvalid, "staff name is required")
	case r.StaffEmail == "":
		return errors.Wrap(ErrInvalid, "staff email is required")
	}
	return validateHours(r.OpenTime, r.CloseTime)
}

type registrationRecord struct {
	*Registration
	CreatedAt any `json:"createdAt"`
	UpdatedAt any `json:"updatedAt"`
}

func decodeRegistration(doc docstore.Document) (*Registration, error) {
	var r Registration
	if err := doc.DataTo(&r); err != nil {
		return nil, errors.Wrapf(err, "decode registration %s", doc.ID)
	}
	r.ID = doc.ID
	return &r, nil
}

// RegisterCanteen files a registration for review. Anyone may register,
// signed in or not.
func (s *Service) RegisterCanteen(ctx context.Context, p *auth.Principal, reg Registration) (*Registration, error) {
	if err := reg.validate(); err != nil {
		return nil, err
	}
	reg.Status = RegistrationPending
	reg.ReviewedBy = ""
	reg.SubmittedBy = ""
	if p != nil {
		reg.SubmittedBy = p.UID
	}
	id, err := s.docs.Add(ctx, RegistrationCollection, registrationRecord{
		Registration: &reg,
		CreatedAt:    docstore.ServerTimestamp,
		UpdatedAt:    docstore.ServerTimestamp,
	})
	if err != nil {
		return nil, storeErr("add registration", err)
	}
	s.lg.Info("Canteen registration submitted",
		zap.String("registration_id", id),
		zap.String("canteen", reg.CanteenName),
	)
	return s.registration(ctx, id)
}

// ListRegistrations returns the registrations awaiting review, newest first.
func (s *Service) ListRegistrations(ctx context.Context, p *auth.Principal) ([]Registration, error) {
	if !p.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	docs, err := s.docs.Find(ctx, docstore.Query{Collection: RegistrationCollection}.
		Where("status", string(RegistrationPending)).
		SortBy("createdAt", true))
	if err != nil {
		return nil, storeErr("find registrations", err)
	}
	out := make([]Registration, 0, len(docs))
	for _, d := range docs {
		r, err := decodeRegistration(d)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// ApproveCanteen turns a pending registration into an active canteen that
// takes orders, keeping the registration id.
func (s *Service) ApproveCanteen(ctx context.Context, p *auth.Principal, registrationID string) (*Canteen, error) {
	reg, err := s.pending(ctx, p, registrationID)
	if err != nil {
		return nil, err
	}
	c := Canteen{
		Name:           reg.CanteenName,
		Description:    reg.Description,
		Location:       reg.Location,
		OpenTime:       reg.OpenTime,
		CloseTime:      reg.CloseTime,
		IsActive:       true,
		IsTakingOrders: true,
	}
	if err := s.docs.Put(ctx, CanteenCollection, reg.ID, canteenRecord{
		Canteen:   &c,
		CreatedAt: docstore.ServerTimestamp,
		UpdatedAt: docstore.ServerTimestamp,
	}, false); err != nil {
		return nil, storeErr("put canteen", err)
	}
	if err := s.review(ctx, p, reg.ID, RegistrationApproved); err != nil {
		return nil, err
	}
	s.lg.Info("Canteen approved",
		zap.String("canteen_id", reg.ID),
		zap.String("name", c.Name),
		zap.String("staff_email", reg.StaffEmail),
	)
	return s.GetCanteen(ctx, reg.ID)
}

// RejectCanteen declines a pending registration.
func (s *Service) RejectCanteen(ctx context.Context, p *auth.Principal, registrationID string) error {
	reg, err := s.pending(ctx, p, registrationID)
	if err != nil {
		return err
	}
	if err := s.review(ctx, p, reg.ID, RegistrationRejected); err != nil {
		return err
	}
	s.lg.Info("Canteen rejected", zap.String("registration_id", reg.ID))
	return nil
}

// pending loads a registration for review by p.
func (s *Service) pending(ctx context.Context, p *auth.Principal, id string) (*Registration, error) {
	if !p.IsSuperAdmin() {
		return nil, ErrForbidden
	}
	reg, err := s.registration(ctx, id)
	if err != nil {
		return nil, err
	}
	if reg.Status != RegistrationPending {
		return nil, errors.Wrapf(ErrReviewed, "registration %s is %s", id, reg.Status)
	}
	return reg, nil
}

func (s *Service) review(ctx context.Context, p *auth.Principal, id string, status RegistrationStatus) error {
	return s.update(ctx, RegistrationCollection, id, map[string]any{
		"status":     string(status),
		"reviewedBy": p.UID,
		"updatedAt":  docstore.ServerTimestamp,
	})
}

func (s *Service) registration(ctx context.Context, id string) (*Registration, error) {
	doc, err := s.docs.Get(ctx, RegistrationCollection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "registration %s", id)
	}
	if err != nil {
		return nil, storeErr("get registration", err)
	}
	return decodeRegistration(*doc)
}
