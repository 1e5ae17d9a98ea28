package engagement

import "errors"

var (
	ErrDuplicateEngagement = errors.New("an engagement with this coach is already pending or active")
	ErrAlreadyProcessed    = errors.New("this request has already been processed")
	ErrNoActiveEngagement  = errors.New("no active engagement with this coach")
	ErrQuotaExhausted      = errors.New("no sessions remaining in package")
	ErrNegativeBalance     = errors.New("session balance cannot go below zero")
	ErrRecordNotFound      = errors.New("session usage record not found")
	ErrNoActivePackage     = errors.New("no active session package found")
	ErrAlreadyUsedOnDate   = errors.New("session already used on this date")
	ErrEngagementNotFound  = errors.New("engagement not found")
	ErrEngagementExpired   = errors.New("engagement has expired")
	ErrInvalidRateType     = errors.New("invalid rate type")
	ErrEntitlementRequired = errors.New("premium membership required to hire a coach")
	ErrForbidden           = errors.New("not allowed to act on this engagement")
	ErrValidation          = errors.New("validation failed")

	// ErrStorage wraps any storage failure. The enclosing transaction has
	// rolled back and the call may be retried.
	ErrStorage = errors.New("storage failure")
)
