// Package jsonutil writes JSON API responses.
//
// WriteError is the single place engine errors become HTTP statuses:
//
//	if err != nil {
//	    jsonutil.WriteError(w, r, h.log, err)
//	    return
//	}
package jsonutil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"go.uber.org/zap"
)

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// OK writes a 200 OK JSON response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 Created JSON response.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// errorBody is {"error": message, "code": kind}.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error writes {"error": message} with the given status code.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorBody{Error: message})
}

func BadRequest(w http.ResponseWriter, message string)   { Error(w, http.StatusBadRequest, message) }
func Unauthorized(w http.ResponseWriter, message string) { Error(w, http.StatusUnauthorized, message) }
func Forbidden(w http.ResponseWriter, message string)    { Error(w, http.StatusForbidden, message) }
func NotFound(w http.ResponseWriter, message string)     { Error(w, http.StatusNotFound, message) }

// InternalError writes a 500. Never pass internal details as message.
func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, message)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindNotEmpty:
		return http.StatusConflict
	case apperr.KindQuotaExceeded:
		return http.StatusInsufficientStorage
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindTypeNotAllowed:
		return http.StatusUnsupportedMediaType
	case apperr.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err using its kind. Internal errors are logged with their
// cause and reported to the client generically.
func WriteError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal && log != nil {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	JSON(w, StatusFor(kind), errorBody{Error: apperr.Message(err), Code: kind.String()})
}

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 1 << 20

// Decode reads JSON from the request body into v. Unknown fields and
// trailing data are rejected so typos surface as 400s.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Invalid("request body is empty")
		}
		return apperr.Invalid("invalid JSON: %v", err)
	}
	if dec.More() {
		return apperr.Invalid("request body must contain a single JSON object")
	}
	return nil
}
