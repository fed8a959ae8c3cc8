package grant

import "errors"

// Grant validation errors
var (
	// ErrNoSecretKey is returned when signing or verifying without a configured secret
	ErrNoSecretKey = errors.New("grant: no secret key configured")

	// ErrMissingSignature is returned when the sig parameter is absent
	ErrMissingSignature = errors.New("grant: missing signature parameter")

	// ErrMalformedGrant is returned when grant parameters cannot be parsed
	ErrMalformedGrant = errors.New("grant: malformed grant")

	// ErrInvalidSignature is returned when the signature does not match the parameters
	ErrInvalidSignature = errors.New("grant: invalid signature")

	// ErrExpired is returned at or after the grant's expiry
	ErrExpired = errors.New("grant: grant has expired")

	// ErrNotYetValid is returned before the grant's start time
	ErrNotYetValid = errors.New("grant: grant not yet valid")

	// ErrContainerNotGranted is returned when the container is outside the grant's scope
	ErrContainerNotGranted = errors.New("grant: container not covered by grant")

	// ErrPermissionDenied is returned when the operation needs a permission the grant lacks
	ErrPermissionDenied = errors.New("grant: permission not granted")
)

// IsAuthError returns true if the error is a grant validation error
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrMalformedGrant) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrNotYetValid) ||
		errors.Is(err, ErrContainerNotGranted) ||
		errors.Is(err, ErrPermissionDenied)
}
