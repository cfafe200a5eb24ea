package httperr

import (
	"encoding/json"
	"net/http"
)

// Write writes a Skyport error payload with an SP-xxx code and message.
func Write(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message})
}

// WriteDetails writes an error payload carrying structured details, used by
// credential validation so callers can render per-field messages.
func WriteDetails(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message, "details": details})
}
