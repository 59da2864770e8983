package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
)

// WriteJSONResponse marshals v into the response, reporting success.
func WriteJSONResponse(w http.ResponseWriter, v any) bool {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: Failed to write JSON response: %v", err)
		return false
	}
	return true
}

// ParseLimitParam parses the limit query parameter, falling back to the
// default when missing or invalid.
func ParseLimitParam(r *http.Request, defaultLimit int) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultLimit
}
