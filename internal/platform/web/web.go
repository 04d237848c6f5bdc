package web

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Error is the handler-level error of the API stand-in. Fields, when set, is rendered as the
// field-keyed validation body ({"email": ["..."]}) instead of {"detail": "..."}.
type Error struct {
	Code    int
	Message string
	Kind    string
	Fields  map[string][]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Handler is an http handler that reports failures by returning *Error.
type Handler func(w http.ResponseWriter, r *http.Request) *Error

func (fn Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := fn(w, r); err != nil {
		event := log.Warn()
		if err.Code >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Err(err.Err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", err.Code).
			Msg(err.Message)

		if len(err.Fields) > 0 {
			WriteJSON(w, err.Code, err.Fields)
			return
		}
		body := map[string]string{"detail": err.Message}
		if err.Kind != "" {
			body["code"] = err.Kind
		}
		WriteJSON(w, err.Code, body)
	}
}

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
