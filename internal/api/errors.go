package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dunamismax/pixelfx/internal/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

const (
	codeInvalidStrength = "invalid_strength"
	codeUnknownEffect   = "unknown_effect"
	codeDecodeError     = "decode_error"
	codeEncodeError     = "encode_error"
	codeTooLarge        = "payload_too_large"
	codeBadRequest      = "bad_request"
	codeNotFound        = "not_found"
	codeConflict        = "conflict"
	codeRateLimited     = "rate_limited"
	codeCanceled        = "canceled"
	codeInternal        = "internal_error"
)

// classify maps an engine or job error onto a status and a stable code.
func classify(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, codeTooLarge
	case errors.Is(err, domain.ErrInvalidStrength):
		return http.StatusBadRequest, codeInvalidStrength
	case errors.Is(err, domain.ErrUnknownEffect):
		return http.StatusBadRequest, codeUnknownEffect
	case errors.Is(err, domain.ErrDecode):
		return http.StatusBadRequest, codeDecodeError
	case errors.Is(err, domain.ErrEncode):
		return http.StatusInternalServerError, codeEncodeError
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, codeCanceled
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// writeClassified hides internal error details behind a generic message.
func writeClassified(w http.ResponseWriter, err error) int {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && code == codeInternal {
		msg = "internal error"
	}
	writeError(w, status, code, msg)
	return status
}
