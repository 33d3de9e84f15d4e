package querier

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrGeneral matches every GeneralError with errors.Is.
var ErrGeneral = errors.New("querier: general error")

// GeneralError reports an unexpected core failure: every host was
// unreachable, or the core answered with a non-2xx status. It is never
// retried by the library.
type GeneralError struct {
	Method     string
	Path       string
	StatusCode int    // zero when no host answered
	Body       string // response body, if any
	Err        error  // transport error, if any
}

func (e *GeneralError) Error() string {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return fmt.Sprintf("querier: %s %s: invalid API key", e.Method, e.Path)
	case e.StatusCode != 0:
		return fmt.Sprintf("querier: %s %s: core responded with status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("querier: %s %s: no core host reachable: %v", e.Method, e.Path, e.Err)
	}
}

func (e *GeneralError) Unwrap() error { return e.Err }

func (e *GeneralError) Is(target error) bool { return target == ErrGeneral }

// HTTPStatus is the status an HTTP layer should answer with.
func (e *GeneralError) HTTPStatus() int { return http.StatusBadGateway }
