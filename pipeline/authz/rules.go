package authz

import (
	"context"
	"slices"
)

// PermissionKey is the operation metadata key HasPermission reads.
const PermissionKey = "permission"

// Viewer represents the authenticated caller of an operation.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles. Permissions are roles too.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant, or "" when not applicable.
	GetTenantID() string
}

type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext returns the viewer in ctx, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic Viewer.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

func (v *SimpleViewer) GetID() string       { return v.UserID }
func (v *SimpleViewer) GetRoles() []string  { return v.Roles }
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// Owned is implemented by inputs that belong to a user.
type Owned interface {
	OwnerID() string
}

// Tenanted is implemented by inputs scoped to a tenant.
type Tenanted interface {
	TenantID() string
}

// DenyIfNoViewer denies requests without a viewer. It is typically the
// first rule of a policy.
func DenyIfNoViewer() Rule {
	return ContextRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("authz: viewer required")
		}
		return Skip
	})
}

// HasRole allows viewers with role and skips everyone else.
func HasRole(role string) Rule {
	return HasAnyRole(role)
}

// HasAnyRole allows viewers with any of roles and skips everyone else.
func HasAnyRole(roles ...string) Rule {
	return ContextRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		for _, role := range roles {
			if slices.Contains(viewer.GetRoles(), role) {
				return Allow
			}
		}
		return Skip
	})
}

// HasPermission enforces the permission named by the operation's metadata
// under PermissionKey. Operations without one are skipped; viewers lacking
// it are denied.
func HasPermission() Rule {
	return RuleFunc(func(ctx context.Context, req *Request) error {
		perm := req.Metadata[PermissionKey]
		if perm == "" {
			return Skip
		}
		viewer := ViewerFromContext(ctx)
		if viewer != nil && slices.Contains(viewer.GetRoles(), perm) {
			return Allow
		}
		return Denyf("authz: permission %q required for %s", perm, req.Operation)
	})
}

// IsOwner allows the request when the input is Owned by the viewer.
func IsOwner() Rule {
	return RuleFunc(func(ctx context.Context, req *Request) error {
		viewer := ViewerFromContext(ctx)
		owned, ok := req.Input.(Owned)
		if viewer == nil || !ok {
			return Skip
		}
		if owned.OwnerID() == viewer.GetID() {
			return Allow
		}
		return Skip
	})
}

// TenantRule denies requests whose Tenanted input belongs to a tenant other
// than the viewer's.
func TenantRule() Rule {
	return RuleFunc(func(ctx context.Context, req *Request) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return Skip
		}
		scoped, ok := req.Input.(Tenanted)
		if !ok {
			return Skip
		}
		if scoped.TenantID() != viewer.GetTenantID() {
			return Denyf("authz: tenant mismatch")
		}
		return Skip
	})
}
