/*
errors.go - Error to HTTP status mapping

PURPOSE:
  Every handler reports failures through writeError so the status codes
  and the JSON error body are decided in one place.

STATUS MAPPING:
  leave.ErrNotFound        404  Unknown employee, leave type, request
  leave.ErrValidation      422  Business rule rejection (kind in body)
  leave.ErrStateConflict   409  Wrong state or lost a concurrent transition
  leave.ErrPolicyMissing   412  Leave type has no active policy
  leave.ErrForbidden       403  Acting user may not perform the transition
  malformed body / DTO     400  JSON decode or struct tag validation
  anything else            500  Logged, details hidden from the client

BODY:
  {"error": "...", "code": "VALIDATION_FAILED", "kind": "Overlap", "details": ...}

SEE ALSO:
  - leave/errors.go: Domain error taxonomy
  - dto.go: Struct tag validation
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Details any    `json:"details,omitempty"`
}

const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeValidation    = "VALIDATION_FAILED"
	CodeStateConflict = "STATE_CONFLICT"
	CodePolicyMissing = "POLICY_MISSING"
	CodeInternal      = "INTERNAL"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeBadRequest reports a body that could not be decoded or failed its
// struct tags. Validator failures list the offending fields.
func writeBadRequest(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message, Code: CodeBadRequest}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[fe.Field()] = fe.Tag()
		}
		resp.Details = fields
	} else if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

// writeError maps a domain error to its status. Unclassified errors are
// logged and reported as 500 without their message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := classify(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, ErrorResponse) {
	var (
		ve *leave.ValidationError
		ce *leave.StateConflictError
		ne *leave.NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, ErrorResponse{
			Error: ve.Message, Code: CodeValidation, Kind: string(ve.Kind),
		}
	case errors.As(err, &ce):
		return http.StatusConflict, ErrorResponse{
			Error: err.Error(), Code: CodeStateConflict,
			Details: map[string]string{"actual": string(ce.Actual)},
		}
	case errors.Is(err, leave.ErrStateConflict):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeStateConflict}
	case errors.As(err, &ne):
		return http.StatusNotFound, ErrorResponse{
			Error: err.Error(), Code: CodeNotFound,
			Details: map[string]string{"entity": ne.Entity, "id": ne.ID},
		}
	case errors.Is(err, leave.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: CodeNotFound}
	case errors.Is(err, leave.ErrPolicyMissing):
		return http.StatusPreconditionFailed, ErrorResponse{Error: err.Error(), Code: CodePolicyMissing}
	case errors.Is(err, leave.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: CodeForbidden}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: CodeInternal}
}
