package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"viewpulse/internal/model"
)

type errorResponse struct {
	Ok      bool                `json:"ok"`
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details []model.ErrorDetail `json:"details,omitempty"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("invalid json payload")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...model.ErrorDetail) {
	writeJSON(w, status, errorResponse{Ok: false, Code: code, Message: message, Details: details})
}
