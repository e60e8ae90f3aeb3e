// Package identity provides the identity and role-authorization core for a
// multi-tenant application: principal storage via Bun, first-user admin
// election, an ordered authorization policy, a transactional role audit
// trail, claims augmentation for token consumers, and a session facade that
// unifies demo and production authentication.
//
// Role election:
//   - RoleElection serializes principal creation behind a single guard so
//     the first registered principal deterministically becomes admin.
//     Subsequent signups get the user role, with an allow-list promotion
//     step for configured administrator emails.
//
// Authorization:
//   - Policy evaluates a fixed rule order: reads are open, principals edit
//     their own non-role fields, the self-update path never changes role,
//     and role changes, deletions, and audit reads are admin operations.
//     Role updates that would remove the last administrator are denied.
//   - Directory is the only mutation surface over the principals store;
//     every role change commits with its RoleAuditRecord in one
//     transaction.
//
// Claims augmentation:
//   - ClaimAugmenter derives {user_role, is_admin} from the principal's
//     current role at token-mint time. A missing row yields the default
//     user claim set so token issuance never blocks on profile-creation
//     ordering. It plugs into TokenService as a ClaimsDecorator; protected
//     claims (sub, iss, aud, exp, etc.) remain immutable.
//
// Sessions:
//   - SessionFacade exposes sign-in/up/out, the current principal, and
//     change notifications. The demo strategy keeps bcrypt credentials in a
//     local state store; the production strategy exchanges credentials with
//     the external identity provider and then re-resolves role from the
//     principals store on every sign-in and refresh.
package identity
