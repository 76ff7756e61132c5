// Package auth resolves the authenticated principal of a request.
package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// Role grants access to parts of the system.
type Role string

const (
	RoleUser         Role = "user"
	RoleAdmin        Role = "admin"
	RoleSuperAdmin   Role = "super_admin"
	RoleCanteenStaff Role = "canteen_staff"
)

// ErrInvalidRole is returned for roles outside the known set.
var ErrInvalidRole = errors.New("invalid role")

// ParseRole validates s as a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAdmin, RoleSuperAdmin, RoleCanteenStaff:
		return r, nil
	default:
		return "", errors.Wrap(ErrInvalidRole, s)
	}
}

// Principal is the authenticated caller.
type Principal struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
	// CanteenID is set for canteen staff.
	CanteenID string `json:"canteenId,omitempty"`
}

// IsAdmin reports whether p administers every canteen.
func (p *Principal) IsAdmin() bool {
	return p != nil && (p.Role == RoleAdmin || p.Role == RoleSuperAdmin)
}

// IsSuperAdmin reports whether p may onboard canteens.
func (p *Principal) IsSuperAdmin() bool {
	return p != nil && p.Role == RoleSuperAdmin
}

// CanManageCanteen reports whether p may manage the menu and orders of
// canteenID.
func (p *Principal) CanManageCanteen(canteenID string) bool {
	if p.IsAdmin() {
		return true
	}
	return p != nil && p.Role == RoleCanteenStaff && p.CanteenID != "" && p.CanteenID == canteenID
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal of ctx, or nil if unauthenticated.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
