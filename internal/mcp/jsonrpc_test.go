package mcp

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRequest(t *testing.T) {
	req := NewRequest(StringID("42"), "tools/list", json.RawMessage(`{"cursor":"abc"}`))

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","id":"42","method":"tools/list","params":{"cursor":"abc"}}`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}
}

func TestNewNotification_OmitsID(t *testing.T) {
	data, err := json.Marshal(NewNotification(methodInitialized, nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got := string(data); got != `{"jsonrpc":"2.0","method":"notifications/initialized"}` {
		t.Errorf("marshal = %s", got)
	}
}

func TestID_WireForm(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		key     string
		wantErr bool
	}{
		{name: "string", in: `"abc"`, key: "abc"},
		{name: "number", in: `17`, key: "17"},
		{name: "negative number", in: `-3`, key: "-3"},
		{name: "fraction", in: `1.5`, wantErr: true},
		{name: "object", in: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ID
			err := json.Unmarshal([]byte(tt.in), &id)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Unmarshal(%s) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal(%s): %v", tt.in, err)
			}
			if id.String() != tt.key {
				t.Errorf("String() = %q, want %q", id.String(), tt.key)
			}

			out, err := json.Marshal(id)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(out) != tt.in {
				t.Errorf("Marshal = %s, want original form %s", out, tt.in)
			}
		})
	}
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    MessageKind
		wantErr string
	}{
		{name: "request", raw: `{"jsonrpc":"2.0","id":1,"method":"ping"}`, want: KindRequest},
		{name: "notification", raw: `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`, want: KindNotification},
		{name: "result", raw: `{"jsonrpc":"2.0","id":"3","result":{"tools":[]}}`, want: KindResponse},
		{name: "error", raw: `{"jsonrpc":"2.0","id":"3","error":{"code":-32601,"message":"nope"}}`, want: KindResponse},
		{name: "not json", raw: `hello`, wantErr: "decode frame"},
		{name: "wrong version", raw: `{"jsonrpc":"1.0","id":1,"result":{}}`, wantErr: "unsupported jsonrpc version"},
		{name: "missing version", raw: `{"id":1,"result":{}}`, wantErr: "unsupported jsonrpc version"},
		{name: "no id or method", raw: `{"jsonrpc":"2.0","result":{}}`, wantErr: "neither id nor method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.raw))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("DecodeMessage error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if msg.Kind() != tt.want {
				t.Errorf("Kind() = %d, want %d", msg.Kind(), tt.want)
			}
		})
	}
}

func TestDecodeMessage_ErrorPreserved(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":"9","error":{"code":-32602,"message":"Invalid params","data":{"field":"x"}}}`
	msg, err := DecodeMessage([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if msg.Error == nil {
		t.Fatal("Error is nil")
	}
	if msg.Error.Code != codeInvalidParams {
		t.Errorf("Code = %d, want %d", msg.Error.Code, codeInvalidParams)
	}
	if msg.Error.Message != "Invalid params" {
		t.Errorf("Message = %q", msg.Error.Message)
	}
	if string(msg.Error.Data) != `{"field":"x"}` {
		t.Errorf("Data = %s", msg.Error.Data)
	}
	if got := msg.Error.Error(); got != "jsonrpc error -32602: Invalid params" {
		t.Errorf("Error() = %q", got)
	}
}

func TestValidResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{name: "result", raw: `{"jsonrpc":"2.0","id":1,"result":{}}`, want: true},
		{name: "null result", raw: `{"jsonrpc":"2.0","id":1,"result":null}`, want: true},
		{name: "error", raw: `{"jsonrpc":"2.0","id":1,"error":{"code":1,"message":"x"}}`, want: true},
		{name: "both", raw: `{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`, want: false},
		{name: "neither", raw: `{"jsonrpc":"2.0","id":1}`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.raw))
			if err != nil {
				t.Fatalf("DecodeMessage: %v", err)
			}
			if got := msg.ValidResponse(); got != tt.want {
				t.Errorf("ValidResponse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodeParams(t *testing.T) {
	raw, err := encodeParams(nil)
	if err != nil || raw != nil {
		t.Errorf("encodeParams(nil) = %s, %v; want nil, nil", raw, err)
	}

	if _, err := encodeParams(map[string]any{"f": func() {}}); err == nil {
		t.Error("encodeParams accepted a func value")
	} else if _, ok := err.(*SerializationError); !ok {
		t.Errorf("error = %T, want *SerializationError", err)
	}
}
