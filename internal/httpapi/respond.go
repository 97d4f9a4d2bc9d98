// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	"github.com/commonsforum/commons/internal/auth"
	"github.com/commonsforum/commons/pkg/errutil"
)

const maxBodyBytes = 1 << 20

const (
	msgInternal      = "internal server error"
	msgInvalidBody   = "request body must be a JSON object"
	msgInvalidFields = "invalid request"
)

// newValidator returns a validator that reports fields by their JSON names
// and understands the ulid tag.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	//nolint:errcheck // tag name and func are static
	v.RegisterValidation("ulid", func(fl validator.FieldLevel) bool {
		_, err := ulid.ParseStrict(fl.Field().String())
		return err == nil
	})
	return v
}

// statusFor maps a failure kind onto an HTTP status.
func statusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindBadRequest:
		return http.StatusBadRequest
	case auth.KindUnauthorized:
		return http.StatusUnauthorized
	case auth.KindForbidden:
		return http.StatusForbidden
	case auth.KindConflict:
		return http.StatusConflict
	case auth.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.DebugContext(r.Context(), "response write failed", "error", err)
	}
}

func (a *API) writeMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	a.writeJSON(w, r, status, messageResponse{Message: msg})
}

// writeError renders err using its kind. Internal failures are logged and
// replaced with a generic message.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	if kind == auth.KindInternal {
		errutil.LogErrorContext(r.Context(), a.logger, "request failed", err)
		a.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: msgInternal})
		return
	}
	a.writeJSON(w, r, statusFor(kind), errorResponse{Error: auth.PublicMessage(err, msgInternal)})
}

// decode reads a JSON body into dst and validates it. It writes the 400
// response itself and reports false when the request is unusable.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		a.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: msgInvalidBody})
		return false
	}
	if t, ok := dst.(trimmer); ok {
		t.trim()
	}

	if err := a.validate.StructCtx(r.Context(), dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			a.writeError(w, r, err)
			return false
		}
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[fe.Field()] = fe.Tag()
		}
		a.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: msgInvalidFields, Fields: fields})
		return false
	}
	return true
}
