package models

import "errors"

// Error taxonomy surfaced to callers. Operations wrap these with enough
// context (apiId, version, operation) to render an actionable message.
var (
	ErrInvalidVersionFormat = errors.New("invalid semantic version")
	ErrInvalidSpecification = errors.New("invalid specification document")
	ErrDuplicateVersion     = errors.New("version already exists")
	ErrVersionNotFound      = errors.New("version not found")
	ErrPolicyNotFound       = errors.New("lifecycle policy not found")
	ErrPlanNotFound         = errors.New("migration plan not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrTenantContextMissing = errors.New("tenant context missing")
	ErrUnknownStrategy      = errors.New("unknown migration strategy")
)
