package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

const dispatcherTestPrefix = "dispatcher:dispatcher_test"

func testRegistry() *Registry {
	return NewRegistry(map[string]Handler{
		"echo": func(_ context.Context, params json.RawMessage) (any, error) {
			var v any
			if err := json.Unmarshal(params, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		"nothing": func(context.Context, json.RawMessage) (any, error) {
			return nil, nil
		},
		"declined": func(context.Context, json.RawMessage) (any, error) {
			return nil, Fail("File %s doesn't exist", "Notes/missing.md")
		},
		"broken": func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("disk on fire")
		},
		"wrapped-declined": func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.Join(errors.New("context"), Fail("property is not a list"))
		},
		"panics": func(context.Context, json.RawMessage) (any, error) {
			var m map[string]int
			m["boom"] = 1
			return nil, nil
		},
	})
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		params      string
		wantSuccess bool
		wantResult  any
	}{
		{"success with result", "echo", `{"a":1}`, true, map[string]any{"a": float64(1)}},
		{"success with null", "nothing", ``, true, nil},
		{"unknown method", "nope", ``, false, "unknown method nope"},
		{"declared failure passes through", "declined", ``, false, "File Notes/missing.md doesn't exist"},
		{"fault is formatted", "broken", ``, false, "Request broken failed: disk on fire"},
		{"wrapped declared failure", "wrapped-declined", ``, false, "property is not a list"},
	}

	d := NewDispatcher(testRegistry())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := d.Dispatch(context.Background(), &Request{
				RequestID: "req-1",
				Method:    tt.method,
				Params:    json.RawMessage(tt.params),
			})
			if resp == nil {
				t.Fatalf("%s - nil response", dispatcherTestPrefix)
			}
			if resp.Success != tt.wantSuccess {
				t.Errorf("%s - Success = %v, want %v", dispatcherTestPrefix, resp.Success, tt.wantSuccess)
			}

			got, _ := json.Marshal(resp.Result)
			want, _ := json.Marshal(tt.wantResult)
			if string(got) != string(want) {
				t.Errorf("%s - Result = %s, want %s", dispatcherTestPrefix, got, want)
			}
		})
	}
}

func TestDispatch_PanicIsContained(t *testing.T) {
	d := NewDispatcher(testRegistry())

	resp := d.Dispatch(context.Background(), &Request{RequestID: "req-2", Method: "panics"})
	if resp.Success {
		t.Fatalf("%s - expected failure for panicking handler", dispatcherTestPrefix)
	}
	msg, ok := resp.Result.(string)
	if !ok {
		t.Fatalf("%s - expected string result, got %T", dispatcherTestPrefix, resp.Result)
	}
	if want := "Request panics failed: "; len(msg) <= len(want) || msg[:len(want)] != want {
		t.Errorf("%s - Result = %q, want prefix %q", dispatcherTestPrefix, msg, want)
	}
}

func TestDispatch_NilRegistry(t *testing.T) {
	d := NewDispatcher(nil)

	resp := d.Dispatch(context.Background(), &Request{RequestID: "x", Method: "list-dir"})
	if resp.Success || resp.Result != "unknown method list-dir" {
		t.Errorf("%s - got %+v", dispatcherTestPrefix, resp)
	}
}

func TestDispatch_DoesNotMutateRequest(t *testing.T) {
	d := NewDispatcher(testRegistry())
	req := &Request{RequestID: "req-3", Method: "echo", Params: json.RawMessage(`[1,2]`)}

	d.Dispatch(context.Background(), req)

	if req.RequestID != "req-3" || req.Method != "echo" || string(req.Params) != `[1,2]` {
		t.Errorf("%s - request mutated: %+v", dispatcherTestPrefix, req)
	}
}
