package protocol

// Error codes returned in ErrorShape.Code.
const (
	ErrInvalidRequest    = "INVALID_REQUEST"
	ErrUnavailable       = "UNAVAILABLE"
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrNotFound          = "NOT_FOUND"
	ErrResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrInternal          = "INTERNAL"
)
