package dispatcher

import (
	"fmt"
	"log/slog"

	"github.com/morezero/vault-bridge/pkg/queueutil"
)

const codecLogPrefix = "dispatcher:codec"

// DecodeError reports a payload that cannot be turned into a Request. No
// reply is possible for it since the request id is not reliably known.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode request: %s: %v", e.Reason, e.Err)
	}
	return "decode request: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeRequest parses a raw queue element into a Request.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := queueutil.DecodePayload(data, &req); err != nil {
		return nil, &DecodeError{Reason: "malformed payload", Err: err}
	}
	if req.Method == "" {
		return nil, &DecodeError{Reason: "missing method"}
	}
	if req.RequestID == "" {
		return nil, &DecodeError{Reason: "missing request_id"}
	}
	return &req, nil
}

// EncodeResponse serializes resp. It never fails: a result that cannot be
// encoded is replaced by a failure envelope describing why.
func EncodeResponse(resp *Response) []byte {
	if resp == nil {
		resp = Failed("empty response")
	}
	data, err := queueutil.EncodePayload(resp)
	if err == nil {
		return data
	}

	slog.Error(fmt.Sprintf("%s - failed to encode response: %v", codecLogPrefix, err))
	data, err = queueutil.EncodePayload(Failed(fmt.Sprintf("failed to encode response: %v", err)))
	if err != nil {
		return []byte(`{"success":false,"result":"failed to encode response"}`)
	}
	return data
}
