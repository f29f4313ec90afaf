package gmail

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies provider failures by how callers should react.
type ErrorKind int

const (
	// KindPermanent failures affect one request and are not retried.
	KindPermanent ErrorKind = iota
	// KindTransient failures (rate limiting, 5xx, network) are retried with backoff.
	KindTransient
	// KindAuth failures invalidate the whole session.
	KindAuth
	// KindNotFound means the addressed message no longer exists.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	default:
		return "permanent"
	}
}

// APIError wraps a provider failure with its HTTP status code and, when the
// provider reported one, the machine-readable reason.
type APIError struct {
	Op     string
	Code   int
	Reason string
	Err    error
}

func (e *APIError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Op, e.Code, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Kind maps the status code onto an ErrorKind. A zero code means the request
// never produced a response and is treated as a network failure.
func (e *APIError) Kind() ErrorKind {
	switch {
	case e.Code == 0:
		return KindTransient
	case e.Code == 401 || e.Code == 403:
		return KindAuth
	case e.Code == 404 || e.Code == 410:
		return KindNotFound
	case e.Code == 408 || e.Code == 429 || e.Code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// Classify reports the ErrorKind of err. Context cancellation is permanent so
// retry loops stop immediately.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindPermanent
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindPermanent
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindPermanent
}

// IsAuth reports whether err should abort the whole run.
func IsAuth(err error) bool { return err != nil && Classify(err) == KindAuth }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return err != nil && Classify(err) == KindTransient }

// sessionReasons are 403 reasons that deny the credentials as a whole.
var sessionReasons = map[string]bool{
	"insufficientPermissions": true,
	"authError":               true,
	"accessNotConfigured":     true,
	"domainPolicy":            true,
}

// IsResourceForbidden reports a 403 that denies one resource rather than the
// credentials, such as a mutation refused on a single message.
func IsResourceForbidden(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == 403 && !sessionReasons[apiErr.Reason]
}
