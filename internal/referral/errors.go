package referral

import "errors"

var (
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrStoreUnavailable marks store failures. The operation can be retried.
	ErrStoreUnavailable = errors.New("referral store unavailable")
)
