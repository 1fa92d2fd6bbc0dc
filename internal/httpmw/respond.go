package httpmw

import (
	"encoding/json"
	"net/http"
	"time"
)

type errorBody struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func writeEnvelope(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{
		Status:    code,
		Message:   msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
