package tenancy

import "errors"

// Sentinel errors surfaced by the tenancy core. Handlers map these to
// HTTP status codes; callers elsewhere match with errors.Is.
var (
	ErrNotFound           = errors.New("tenancy: not found")
	ErrInvalidInput       = errors.New("tenancy: invalid input")
	ErrSubdomainTaken     = errors.New("tenancy: subdomain already taken")
	ErrDomainTaken        = errors.New("tenancy: domain already registered")
	ErrAlreadyMember      = errors.New("tenancy: user is already a member of this tenant")
	ErrInvitePending      = errors.New("tenancy: a pending invitation already exists for this email")
	ErrInvitationExpired  = errors.New("tenancy: invitation has expired")
	ErrOwnerNotRemovable  = errors.New("tenancy: the tenant owner cannot be removed")
	ErrInvalidRole        = errors.New("tenancy: unknown tenant role")
	ErrOwnerNotFound      = errors.New("tenancy: owner user does not exist")
	ErrFeatureNotEnabled  = errors.New("tenancy: feature not enabled for this plan")
	ErrInvalidTransition  = errors.New("tenancy: invalid tenant status transition")
	ErrDuplicateViolation = errors.New("tenancy: unique constraint violation")
)

// IsConflict reports whether err is one of the duplicate/taken conditions
// that should surface as an HTTP 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrSubdomainTaken) ||
		errors.Is(err, ErrDomainTaken) ||
		errors.Is(err, ErrAlreadyMember) ||
		errors.Is(err, ErrInvitePending) ||
		errors.Is(err, ErrDuplicateViolation)
}
