// Package handlers implements the inbound HTTP surface.
package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
)

// respondJSON writes a JSON response body.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("!!! [HTTP] Failed to encode response: %v", err)
	}
}

// respondError renders the standard error body. Outside production the stack
// is included to ease debugging.
func respondError(w http.ResponseWriter, status int, message string, includeStack bool) {
	body := map[string]string{"error": message}
	if includeStack {
		body["stack"] = string(debug.Stack())
	}
	respondJSON(w, status, body)
}
