package domain

import "errors"

var (
	// Store errors
	ErrNotFound          = errors.New("scan not found")
	ErrDuplicateInFlight = errors.New("a scan for this domain is already in progress")
	ErrClaimConflict     = errors.New("scan already claimed")
	ErrNotRunning        = errors.New("scan is not running")

	// Intake errors
	ErrInvalidDomain = errors.New("invalid domain format")
	ErrMissingTenant = errors.New("tenant id is required")
	ErrNotRetryable  = errors.New("only FAILED scans can be retried")
	ErrNotCancelable = errors.New("only PENDING or RUNNING scans can be cancelled")
	ErrRateLimited   = errors.New("too many scans requested, try again later")

	// Configuration errors
	ErrUnknownCheck = errors.New("unknown check identifier")
	ErrTierOrder    = errors.New("tier does not extend the previous tier")
)
