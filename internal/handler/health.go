package handler

import (
	"net/http"
	"os"
)

// HandleHealth reports that the API is up and which machine answered.
//
// HTTP: GET /api/health
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "online",
		"host":    host,
		"project": "Prop-a-bility",
	})
}
