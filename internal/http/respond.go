package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "hemobank/pkg/domain-errors"
)

// errorBody is the JSON envelope every failure renders: the taxonomy code,
// a human message, and the entity acted upon when one is known.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Entity  string `json:"entity,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		de = dErrors.Wrap(err, dErrors.CodeInternal, "internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(dErrors.ToHTTPStatus(de.Code))
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:   string(de.Code),
		Message: de.Message,
		Entity:  de.Entity,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dErrors.New(dErrors.CodeValidation, "invalid request body")
	}
	return nil
}

// decodeOptional is decode for endpoints whose body may be omitted
// entirely; an empty body leaves v at its zero value.
func decodeOptional(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return dErrors.New(dErrors.CodeValidation, "invalid request body")
	}
	return nil
}
