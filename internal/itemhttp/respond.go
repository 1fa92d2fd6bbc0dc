package itemhttp

import (
	"encoding/json"
	"net/http"
	"time"
)

// errorBody is the envelope returned for every non-2xx response.
type errorBody struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{
		Status:    status,
		Message:   msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
