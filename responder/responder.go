package responder

import (
	"net/http"

	"github.com/aidenappl/monitor-trends/logging"
	"github.com/goccy/go-json"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// New writes data as a 200 JSON response
func New(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, data)
}

// Error writes a JSON error response
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, errorBody{Error: message})
}

// ErrorWithCause writes a JSON error response and logs the underlying cause
func ErrorWithCause(w http.ResponseWriter, status int, message string, cause error) {
	logging.Error().Err(cause).Int("status", status).Msg(message)
	body := errorBody{Error: message}
	if cause != nil {
		body.Detail = cause.Error()
	}
	write(w, status, body)
}

func write(w http.ResponseWriter, status int, data any) {
	buf, err := json.Marshal(data)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"failed to encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf)
}
