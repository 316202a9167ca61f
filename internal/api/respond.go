package api

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeRejected returns a structured rejection listing every applicable
// reason. Business-rule failures are never a 5xx.
func writeRejected(w http.ResponseWriter, reasons []string) {
	writeJSON(w, http.StatusConflict, RejectionResponse{Reasons: reasons})
}
