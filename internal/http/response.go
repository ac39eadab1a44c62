package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"budgeteer/internal/core"
	"budgeteer/internal/log"
	"budgeteer/internal/services"
)

// maxBodyBytes caps request bodies; every payload of the API is small.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error      string              `json:"error"`
	Code       string              `json:"code"`
	Field      string              `json:"field,omitempty"`
	Kind       string              `json:"kind,omitempty"`
	ID         string              `json:"id,omitempty"`
	Dependents map[string][]string `json:"dependents,omitempty"`
	Remaining  map[string][]string `json:"remaining,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// errBadRequest marks a body or query that could not be decoded at all.
var errBadRequest = errors.New("malformed request")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		return fmt.Errorf("%w: trailing data after JSON body", errBadRequest)
	}
	return nil
}

func kindSets(sets map[core.Kind][]string) map[string][]string {
	if len(sets) == 0 {
		return nil
	}
	out := make(map[string][]string, len(sets))
	for k, ids := range sets {
		if len(ids) > 0 {
			out[string(k)] = ids
		}
	}
	return out
}

// writeError maps the tracker's error taxonomy onto status codes. Anything
// unrecognised is logged and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *core.ValidationError
		reference  *core.ReferenceViolation
		authz      *core.AuthorizationError
		dependency *core.DependencyExists
		partial    *core.PartialCascadeFailure
	)

	switch {
	case errors.Is(err, errBadRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "bad_request"})
	case errors.As(err, &partial):
		log.FromContext(r.Context()).ErrorContext(r.Context(), "User purge incomplete",
			log.FieldOwnerID, partial.UserID, log.FieldError, err.Error())
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error: "user deletion incomplete, it will be retried", Code: "partial_cascade_failure",
			ID: partial.UserID, Remaining: kindSets(partial.Remaining),
		})
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error: err.Error(), Code: "validation", Field: validation.Field,
		})
	case errors.As(err, &reference):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error: err.Error(), Code: "reference", Field: reference.Field,
			Kind: string(reference.Kind), ID: reference.ID,
		})
	case errors.As(err, &authz):
		writeJSON(w, http.StatusForbidden, errorBody{
			Error: err.Error(), Code: "forbidden", Kind: string(authz.Kind), ID: authz.ID,
		})
	case errors.As(err, &dependency):
		writeJSON(w, http.StatusConflict, errorBody{
			Error: err.Error(), Code: "dependency_exists",
			Kind: string(dependency.Kind), ID: dependency.ID,
			Dependents: kindSets(dependency.Dependents),
		})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: "not_found"})
	case errors.Is(err, core.ErrEmailTaken):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "email_taken", Field: "email"})
	case errors.Is(err, core.ErrAuthenticationFailed):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication failed", Code: "unauthenticated"})
	case errors.Is(err, services.ErrExportUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: "export_unavailable"})
	default:
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
			log.FieldMethod, r.Method, log.FieldPath, r.URL.Path, log.FieldError, err.Error())
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}
