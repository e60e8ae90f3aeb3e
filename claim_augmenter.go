package identity

import (
	"context"

	"github.com/google/uuid"
)

// RoleResolver is the point-in-time role lookup the augmenter depends on.
type RoleResolver interface {
	Get(ctx context.Context, id uuid.UUID) (*Principal, error)
}

// ClaimAugmenter maps a principal's current role to the claim set embedded
// in issued tokens. It is a pure read: no writes, no side effects beyond
// logging, and it never fails token issuance. A principal row that is not
// visible yet (token minted before the profile row lands) yields the
// default claim set rather than an error.
type ClaimAugmenter struct {
	principals RoleResolver
	logger     Logger
	provider   LoggerProvider
}

// NewClaimAugmenter creates the augmenter over a role resolver.
func NewClaimAugmenter(principals RoleResolver) *ClaimAugmenter {
	provider, logger := ResolveLogger("identity.claims", nil, nil)
	return &ClaimAugmenter{
		principals: principals,
		logger:     logger,
		provider:   provider,
	}
}

func (c *ClaimAugmenter) WithLogger(l Logger) *ClaimAugmenter {
	c.provider, c.logger = ResolveLogger("identity.claims", c.provider, l)
	return c
}

// Augment resolves the claim set for a principal id. Lookup failures are
// logged as claims-sync failures and degrade to the default claim set; the
// is_admin flag stays false until the role resolves.
func (c *ClaimAugmenter) Augment(ctx context.Context, principalID string) ClaimSet {
	set, err := c.resolve(ctx, principalID)
	if err != nil {
		c.logger.Warn("using default claims: %v", err)
	}
	return set
}

// resolve returns the claim set plus the degradation cause, if any. A
// missing row and a non-uuid subject are expected shapes and carry no
// error; anything else is a claims sync failure.
func (c *ClaimAugmenter) resolve(ctx context.Context, principalID string) (ClaimSet, error) {
	id, err := uuid.Parse(principalID)
	if err != nil {
		c.logger.Debug("claim augmentation for non-uuid subject %s, using defaults", principalID)
		return DefaultClaimSet(), nil
	}

	principal, err := c.principals.Get(ctx, id)
	if err != nil {
		if IsPrincipalNotFound(err) {
			return DefaultClaimSet(), nil
		}
		return DefaultClaimSet(), claimsSyncFailure(err, id)
	}

	return ClaimSetForRole(principal.Role), nil
}

func claimsSyncFailure(cause error, id uuid.UUID) error {
	clone := ErrClaimsSyncFailure.Clone()
	if clone == nil {
		return ErrClaimsSyncFailure
	}
	clone.Source = cause
	return clone.WithMetadata(map[string]any{"principal_id": id.String()})
}

// AugmentEvent is the payload shape of the provider's token-mint hook.
type AugmentEvent struct {
	UserID string         `json:"user_id"`
	Claims map[string]any `json:"claims"`
}

// AugmentHook enriches a provider token-mint event with role-derived
// claims. It is registered with the external identity provider's minting
// extension point and must remain read-only.
func (c *ClaimAugmenter) AugmentHook(ctx context.Context, event AugmentEvent) AugmentEvent {
	claims := c.Augment(ctx, event.UserID)

	if event.Claims == nil {
		event.Claims = map[string]any{}
	}
	event.Claims["user_role"] = string(claims.UserRole)
	event.Claims["is_admin"] = claims.IsAdmin

	return event
}

// Decorator adapts the augmenter to the token service's decoration point
// for locally minted tokens.
func (c *ClaimAugmenter) Decorator() ClaimsDecorator {
	return ClaimsDecoratorFunc(func(ctx context.Context, identity Identity, claims *JWTClaims) error {
		set := c.Augment(ctx, identity.ID())
		claims.UserRole = string(set.UserRole)
		claims.Admin = set.IsAdmin
		return nil
	})
}
