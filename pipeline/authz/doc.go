// Package authz provides the rules and policies the authorisation
// middleware evaluates before an operation's handler runs.
//
// # Rule Evaluation
//
// A Policy is an ordered list of rules. Rules are evaluated in order until
// one returns a final decision:
//
//   - Allow: grants access and stops evaluation
//   - Deny (or any other error): denies access and stops evaluation
//   - Skip or nil: continues to the next rule
//
// A policy whose rules all skip allows the operation, so policies that
// should deny by default end with AlwaysDenyRule:
//
//	authz.Policy{
//	    authz.DenyIfNoViewer(),
//	    authz.HasRole("admin"),
//	    authz.HasPermission(),
//	    authz.AlwaysDenyRule(),
//	}
//
// # Viewer
//
// The authenticated caller is stored in the context with WithViewer and read
// back by the built-in rules:
//
//	ctx = authz.WithViewer(ctx, &authz.SimpleViewer{
//	    UserID: "user-123",
//	    Roles:  []string{"orders.create"},
//	})
//
// # Operation Metadata
//
// HasPermission reads the permission an operation requires from its
// metadata under PermissionKey, so the requirement is declared next to the
// operation rather than in the policy.
package authz
