package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
)

// errorEnvelope is the JSON body of every non-2xx API response.
type errorEnvelope struct {
	Code       errdefs.Code           `json:"code"`
	Message    string                 `json:"message"`
	Context    map[string]interface{} `json:"context,omitempty"`
	HTTPStatus int                    `json:"httpStatus"`
	Timestamp  time.Time              `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders any error as the envelope, mapping its code to an
// HTTP status. 503 responses carry a Retry-After header so clients back
// off instead of hammering a warming or tripped interpreter.
func writeError(w http.ResponseWriter, err error) {
	code := errdefs.GetCode(err)
	status := errdefs.HTTPStatus(code)
	ectx := errdefs.GetContext(err)

	message := err.Error()
	var e *errdefs.Error
	if errors.As(err, &e) {
		message = e.Message
	}

	if status == http.StatusServiceUnavailable {
		retryAfter := 60
		if ectx != nil {
			if v, ok := ectx["retryAfter"]; ok {
				switch n := v.(type) {
				case int:
					retryAfter = n
				case float64:
					retryAfter = int(n)
				}
			}
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}

	writeJSON(w, status, errorEnvelope{
		Code:       code,
		Message:    message,
		Context:    ectx,
		HTTPStatus: status,
		Timestamp:  time.Now().UTC(),
	})
}

// sseWriter emits server-sent events. Each event is one JSON object in a
// data: line, flushed immediately so clients observe output as it
// happens.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter upgrades the response to an SSE stream. Responses that
// cannot flush cannot stream.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

// Send writes one event and flushes it.
func (s *sseWriter) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
