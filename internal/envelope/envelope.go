// Package envelope defines the units of work exchanged through the broker and their JSON codec.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"relay/internal/apperrors"
)

// Request is a unit of work pushed by the front door and consumed by exactly one worker.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Body   string `json:"body,omitempty"`
}

// Result is the outcome of one Request, stored under the request's result key.
// A failed downstream call still produces a Result; its Body then describes the error.
type Result struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       json.RawMessage   `json:"body"`
}

// ProducesResult reports whether a worker stores a Result for requests with this method.
// Only POST requests are processed; everything else is dropped at the worker.
func ProducesResult(method string) bool {
	return method == http.MethodPost
}

// EncodeRequest serializes a Request envelope.
func EncodeRequest(req *Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Internal("envelope.encodeRequest", err)
	}
	return data, nil
}

// DecodeRequest parses a Request envelope popped from the queue.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, apperrors.Malformed("request envelope", err)
	}
	if req.ID == "" {
		return nil, apperrors.Malformed("request envelope: missing id", nil)
	}
	if req.Method == "" {
		return nil, apperrors.Malformed("request envelope: missing method", nil)
	}
	return &req, nil
}

// NewResult builds a Result whose body is the JSON form of body.
func NewResult(statusCode int, headers map[string]string, body any) (*Result, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.Internal("envelope.newResult", err)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	return &Result{StatusCode: statusCode, Headers: headers, Body: raw}, nil
}

// EncodeResult serializes a Result envelope.
func EncodeResult(res *Result) ([]byte, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, apperrors.Internal("envelope.encodeResult", err)
	}
	return data, nil
}

// DecodeResult parses a Result envelope read from the KV store.
func DecodeResult(data []byte) (*Result, error) {
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, apperrors.Malformed("result envelope", err)
	}
	if res.StatusCode < 100 || res.StatusCode > 599 {
		return nil, apperrors.Malformed("result envelope", fmt.Errorf("status code %d out of range", res.StatusCode))
	}
	if len(bytes.TrimSpace(res.Body)) == 0 {
		res.Body = json.RawMessage("null")
	}
	if res.Headers == nil {
		res.Headers = map[string]string{}
	}
	return &res, nil
}

// Synthetic builds the canned front-door Result returned without consulting a worker.
func Synthetic(requestID, language string, now time.Time) *Result {
	// Marshalling a map of strings and an int64 cannot fail.
	res, _ := NewResult(http.StatusOK, jsonHeaders(), map[string]any{
		"message":    "Processed by " + language + " relay proxy",
		"request_id": requestID,
		"language":   language,
		"timestamp":  now.Unix(),
	})
	return res
}

// Failure builds a Result describing a front-door failure for requestID.
func Failure(statusCode int, requestID, message string) *Result {
	res, _ := NewResult(statusCode, jsonHeaders(), map[string]string{
		"error":      message,
		"request_id": requestID,
	})
	return res
}

func jsonHeaders() map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}
