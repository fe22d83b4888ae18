package api

import (
	"encoding/json"
	"net/http"

	"github.com/Priya8975/model-webhooks/internal/errs"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

// respondErr maps a taxonomy error onto its HTTP status. Plain errors are 500.
func respondErr(w http.ResponseWriter, err error) {
	respondJSON(w, errs.StatusCode(err), errorResponse{
		Error: err.Error(),
		Code:  errs.TextCode(err),
	})
}
