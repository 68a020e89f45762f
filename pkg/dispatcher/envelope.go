// Package dispatcher decodes request envelopes, routes them to registered
// handlers and builds the correlated response envelopes.
package dispatcher

import "encoding/json"

// Request is the JSON envelope popped from a tenant's task queue.
type Request struct {
	RequestID string          `json:"request_id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Response is the JSON envelope pushed to the request's reply queue. When
// Success is false, Result holds a diagnostic string.
type Response struct {
	Success bool `json:"success"`
	Result  any  `json:"result"`
}

// OK builds a success response.
func OK(result any) *Response {
	return &Response{Success: true, Result: result}
}

// Failed builds a failure response carrying message.
func Failed(message string) *Response {
	return &Response{Success: false, Result: message}
}
