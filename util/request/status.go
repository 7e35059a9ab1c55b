package request

import (
	"fmt"
	"net/http"

	"github.com/thoas/go-funk"
)

// bodyLimit caps the response body carried by a StatusError
const bodyLimit = 512

// StatusError indicates a response status code other than 2xx
type StatusError struct {
	statusCode int
	body       []byte
}

// NewStatusError creates a status error from the response and its (possibly truncated) body
func NewStatusError(resp *http.Response, body []byte) StatusError {
	if len(body) > bodyLimit {
		body = body[:bodyLimit]
	}

	return StatusError{
		statusCode: resp.StatusCode,
		body:       body,
	}
}

func (e StatusError) Error() string {
	if len(e.body) > 0 {
		return fmt.Sprintf("unexpected status: %d (%s): %s", e.statusCode, http.StatusText(e.statusCode), e.body)
	}

	return fmt.Sprintf("unexpected status: %d (%s)", e.statusCode, http.StatusText(e.statusCode))
}

// StatusCode returns the response status code
func (e StatusError) StatusCode() int {
	return e.statusCode
}

// HasStatus returns true if the error status matches any of the given codes
func (e StatusError) HasStatus(codes ...int) bool {
	return funk.ContainsInt(codes, e.statusCode)
}

// Body returns the truncated response body
func (e StatusError) Body() []byte {
	return e.body
}
