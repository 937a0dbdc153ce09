// Package httpx writes the JSON error envelope shared by every handler and middleware.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/requestctx"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
)

// Envelope keys a detail can never replace.
var reservedKeys = map[string]struct{}{
	"error": {}, "message": {}, "status": {}, "request_id": {}, "trace_id": {},
}

// Error is an API failure: a machine code, a client-safe message and the HTTP status. Details are
// flattened into the envelope next to the reserved keys.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any

	cause error
}

// NewError builds an Error. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, maxCodeLen),
		Message: clean(message, maxMessageLen),
		Status:  status,
	}
}

func (e Error) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e Error) Unwrap() error { return e.cause }

// WithCause keeps the underlying error for logging. It is never sent to the client.
func (e Error) WithCause(err error) Error {
	e.cause = err
	return e
}

func (e Error) WithRequestID(id string) Error {
	e.RequestID = clean(id, maxIDLen)
	return e
}

func (e Error) WithTraceID(id string) Error {
	e.TraceID = clean(id, maxIDLen)
	return e
}

// WithDetails merges details into any already attached. Later keys win.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// As finds an Error in err's chain.
func As(err error) (Error, bool) {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var ptr *Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return Error{}, false
}

// WriteError encodes err as JSON. Request and trace ids default to the ones on ctx. Server errors
// carrying a cause are logged on the request logger.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	if err.RequestID == "" {
		err.RequestID = clean(middleware.GetReqID(ctx), maxIDLen)
	}
	if err.TraceID == "" {
		err.TraceID = clean(requestctx.TraceID(ctx), maxIDLen)
	}
	if err.Status >= http.StatusInternalServerError && err.cause != nil {
		requestctx.Logger(ctx).Error("http.error",
			zap.String("code", err.Code),
			zap.Int("status", err.Status),
			zap.Error(err.cause),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(envelope(err))
}

func envelope(err Error) map[string]any {
	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		if _, reserved := reservedKeys[k]; !reserved {
			payload[k] = v
		}
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = err.Status
	if err.RequestID != "" {
		payload["request_id"] = err.RequestID
	}
	if err.TraceID != "" {
		payload["trace_id"] = err.TraceID
	}
	return payload
}

// clean folds control characters to spaces, trims, and cuts to limit bytes on a rune boundary.
func clean(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value))
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
