package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrSessionExpired is matched by the error returned when a 401 could not be
// recovered by refreshing: the credentials are gone and the user was sent to /login.
var ErrSessionExpired = errors.New("session expired")

// APIError describes a failed request. StatusCode is 0 when no response arrived
// (Err then holds the transport error).
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	op := e.Method + " " + e.Path
	switch {
	case e.StatusCode > 0 && e.Err != nil:
		return fmt.Sprintf("%s: status=%d: %v", op, e.StatusCode, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s: status=%d", op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", op, e.Err)
	default:
		return op
	}
}

func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Transport reports whether the request failed before any response arrived.
func (e *APIError) Transport() bool {
	return e.StatusCode == 0
}

// Detail returns the "detail" message of a JSON error body.
func (e *APIError) Detail() string {
	return e.stringField("detail")
}

// Code returns the machine-readable "code" of a JSON error body.
func (e *APIError) Code() string {
	return e.stringField("code")
}

func (e *APIError) stringField(key string) string {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(body[key], &s); err != nil {
		return ""
	}
	return s
}

// FieldErrors decodes a field-keyed validation body ({"email": ["taken"]}).
// Single string values are treated as one-element lists; other shapes are skipped.
func (e *APIError) FieldErrors() map[string][]string {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return nil
	}
	out := make(map[string][]string, len(body))
	for field, raw := range body {
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			if len(list) > 0 {
				out[field] = list
			}
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			out[field] = []string{s}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Text returns the body when the server answered with a bare message, either
// a JSON string or plain text.
func (e *APIError) Text() string {
	trimmed := strings.TrimSpace(string(e.Body))
	if trimmed == "" {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
		return s
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "<") {
		return ""
	}
	return trimmed
}

// Fields returns the field names of FieldErrors in sorted order.
func (e *APIError) Fields() []string {
	fe := e.FieldErrors()
	names := make([]string, 0, len(fe))
	for name := range fe {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}
