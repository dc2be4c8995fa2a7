package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Tailgate/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:    http.StatusBadRequest,
	apperr.KindInvalidState:  http.StatusBadRequest,
	apperr.KindUnauthorized:  http.StatusUnauthorized,
	apperr.KindForbidden:     http.StatusForbidden,
	apperr.KindNotFound:      http.StatusNotFound,
	apperr.KindAlreadyExists: http.StatusConflict,
	apperr.KindUnavailable:   http.StatusServiceUnavailable,
}

// writeError maps a categorized error to its HTTP status. Uncategorized
// errors become a 500 with a generic message.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error", "code": string(apperr.KindInternal)})
		return
	}
	msg := err.Error()
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	writeJSON(w, status, map[string]string{"error": msg, "code": string(kind)})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("Invalid request body")
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.KindValidation, "Invalid %s", name)
	}
	return id, nil
}

// optionalUUIDQuery parses an optional uuid query parameter.
func optionalUUIDQuery(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Newf(apperr.KindValidation, "Invalid %s", name)
	}
	return &id, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}
