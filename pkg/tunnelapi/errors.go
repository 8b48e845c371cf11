package tunnelapi

import "fmt"

// HTTPError preserves the status code of a non-2xx management API response
// so callers can branch on NOT_FOUND, FORBIDDEN, and TOO_MANY_REQUESTS per
// spec.md §7.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("management api returned %d: %s", e.Status, e.Body)
}

// IsNotFound reports whether err is an HTTPError with status 404.
func IsNotFound(err error) bool { return hasStatus(err, 404) }

// IsForbidden reports whether err is an HTTPError with status 403.
func IsForbidden(err error) bool { return hasStatus(err, 403) }

// IsTooManyRequests reports whether err is an HTTPError with status 429.
func IsTooManyRequests(err error) bool { return hasStatus(err, 429) }

func hasStatus(err error, status int) bool {
	he, ok := err.(*HTTPError)
	return ok && he.Status == status
}
