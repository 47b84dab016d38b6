package errs

// Gateway error taxonomy. Codes are wire-visible: the websocket error frame
// and the admin API both carry them.
var (
	ErrUnauthenticated  = NewCodeError(1101, "unauthenticated")
	ErrForbidden        = NewCodeError(1102, "forbidden")
	ErrNotFound         = NewCodeError(1104, "not found")
	ErrValidation       = NewCodeError(1400, "validation failed")
	ErrStoreUnavailable = NewCodeError(1502, "store unavailable")

	// ErrCacheUnavailable is internal only: every caller recovers it by
	// falling through to the durable store. It never reaches a client.
	ErrCacheUnavailable = NewCodeError(1503, "cache unavailable")

	ErrRateLimited = NewCodeError(1429, "rate limited")
)
