package auth

import (
	"context"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
)

// RoleTreasurer is the role allowed to change rules and obligations.
const RoleTreasurer = "treasurer"

// Gate authorizes the principal in ctx.
type Gate interface {
	RequireAuthority(ctx context.Context) error
}

// RoleGate requires the principal to hold Role.
type RoleGate struct {
	Role string
}

func (g RoleGate) RequireAuthority(ctx context.Context) error {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return errs.Unauthorized("auth.require", "no principal in context")
	}
	if !p.HasRole(g.Role) {
		return errs.Unauthorized("auth.require", "principal %s lacks role %s", p.ID, g.Role)
	}
	return nil
}

// AllowAll authorizes every caller.
type AllowAll struct{}

func (AllowAll) RequireAuthority(context.Context) error { return nil }
