package ioutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MaxErrorBody bounds how much of an upstream error body is kept for logs.
const MaxErrorBody = 1024

// maxJSONBody bounds decoded upstream JSON documents.
const maxJSONBody = 1 << 20

// ReadLimited reads up to limit bytes from r and returns the content as a string.
// If reading fails, returns a string describing the read failure instead of silencing
// the error. This is intended for including response bodies in error messages and logs.
func ReadLimited(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return fmt.Sprintf("<unreadable: %v>", err)
	}
	return string(body)
}

// StatusError describes an upstream response with an unexpected status code.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// CheckStatus returns a *StatusError when resp is not a 2xx response.
// The body is consumed up to MaxErrorBody in that case.
func CheckStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       ReadLimited(resp.Body, MaxErrorBody),
	}
}

// DecodeJSON decodes a bounded JSON body into v.
func DecodeJSON(op string, r io.Reader, v any) error {
	if err := json.NewDecoder(io.LimitReader(r, maxJSONBody)).Decode(v); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
