package shared

import (
	"fmt"

	"github.com/samber/oops"
)

// Kind classifies a failure so a supervisor can decide whether to surface,
// retry or ignore it.
type Kind string

const (
	KindUnknown             Kind = "UNKNOWN_ERROR"
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindInvalidCoordinate   Kind = "INVALID_COORDINATE"
	KindPermissionDenied    Kind = "PERMISSION_DENIED"
	KindLocationUnavailable Kind = "LOCATION_UNAVAILABLE"
	KindNetworkFailure      Kind = "NETWORK_FAILURE"
	KindMalformedResponse   Kind = "MALFORMED_RESPONSE"
	KindNotFound            Kind = "NOT_FOUND"
	KindRejected            Kind = "REJECTED"
	KindAlreadyExists       Kind = "ALREADY_EXISTS"
	KindUnauthorized        Kind = "UNAUTHORIZED"
)

// NewError creates a coded error using oops
func NewError(kind Kind, domain string, format string, args ...any) error {
	return oops.
		Code(string(kind)).
		In(domain).
		Errorf(format, args...)
}

// WrapError wraps an existing error with a kind and domain context
func WrapError(err error, kind Kind, domain string, format string, args ...any) error {
	return oops.
		Code(string(kind)).
		In(domain).
		Wrapf(err, format, args...)
}

// KindOf extracts the kind of an error built by NewError or WrapError.
// Foreign errors report KindUnknown, nil reports "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return KindUnknown
	}
	code := fmt.Sprint(oopsErr.Code())
	if code == "" || code == "<nil>" {
		return KindUnknown
	}
	return Kind(code)
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Common domain error builders
func ErrInvalidInput(format string, args ...any) error {
	return NewError(KindInvalidInput, "domain", format, args...)
}

func ErrNotFound(resource string) error {
	return NewError(KindNotFound, "domain", "%s not found", resource)
}

func ErrAlreadyExists(resource string) error {
	return NewError(KindAlreadyExists, "domain", "%s already exists", resource)
}
