package httpserver

import (
	"errors"
	"net/http"

	"arcadeops/admin-console/internal/apiclient"
	"arcadeops/admin-console/internal/resource"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind,omitempty"`
	Field  string            `json:"field,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func statusForKind(k apiclient.Kind) int {
	switch k {
	case apiclient.KindUnauthorized:
		return http.StatusUnauthorized
	case apiclient.KindForbidden:
		return http.StatusForbidden
	case apiclient.KindNotFound:
		return http.StatusNotFound
	case apiclient.KindValidation:
		return http.StatusBadRequest
	case apiclient.KindConflict:
		return http.StatusConflict
	case apiclient.KindRejected:
		return http.StatusUnprocessableEntity
	default:
		// Network, server and unexpected failures are all upstream problems.
		return http.StatusBadGateway
	}
}

// writeAPIError renders a backend failure. conflictFields lists the inputs a
// 409 may belong to.
func writeAPIError(w http.ResponseWriter, err error, conflictFields ...string) {
	if errors.Is(err, resource.ErrNoProfileChanges) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var apiErr *apiclient.Error
	if !errors.As(err, &apiErr) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, statusForKind(apiErr.Kind), errorResponse{
		Error:  apiclient.UserMessage(err),
		Kind:   apiErr.Kind.String(),
		Field:  apiclient.ConflictField(err, conflictFields...),
		Fields: apiclient.FieldErrors(err),
	})
}
