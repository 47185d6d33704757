package tunnel

import (
	"encoding/json"
	"testing"

	"github.com/mark0725/natproxy-go/internal/config"
)

func TestProtoCmdRequestRoundTrips(t *testing.T) {
	mapping := config.MappingConfig{Name: "ssh", Mode: "tcp", Forward: "10.0.0.5:22"}
	req := NewRequest("conn", NewProxyRequestBody("bind-123", mapping))

	data, err := json.Marshal(ProtoCmd{Request: &req})
	if err != nil {
		t.Fatal(err)
	}

	var decoded ProtoCmd
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Response != nil {
		t.Fatalf("decoded as Response, want Request")
	}
	if decoded.Request == nil || decoded.Request.ID != req.ID || decoded.Request.CmdType != "conn" {
		t.Fatalf("got %+v, want id=%s cmd_type=conn", decoded.Request, req.ID)
	}
	if !decoded.Request.Body.IsProxyRequest() {
		t.Fatalf("decoded body is not a ProxyRequest: %+v", decoded.Request.Body)
	}
	if decoded.Request.Body.BindID != "bind-123" || decoded.Request.Body.Mapping.Name != "ssh" {
		t.Fatalf("got %+v", decoded.Request.Body)
	}
}

func TestProtoCmdResponseRoundTrips(t *testing.T) {
	resp := NewResponse("req-1", "conn", "Ok", "proccess success", nil)

	data, err := json.Marshal(ProtoCmd{Response: &resp})
	if err != nil {
		t.Fatal(err)
	}

	var decoded ProtoCmd
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Request != nil {
		t.Fatalf("decoded as Request, want Response")
	}
	if decoded.Response == nil || decoded.Response.ID != "req-1" || decoded.Response.Status != "Ok" {
		t.Fatalf("got %+v", decoded.Response)
	}
}

func TestKeepaliveRequestHasNoBody(t *testing.T) {
	req := NewRequest("keepalive", nil)
	data, err := json.Marshal(ProtoCmd{Request: &req})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["body"]; ok {
		t.Fatalf("keepalive request must omit body, got %s", data)
	}
}

func TestHandshakeHelpersRoundTrip(t *testing.T) {
	main := mainHandshake("client1", "abc-def")
	if main != "main:client1:abc-def" {
		t.Fatalf("got %q", main)
	}
	tokens := splitHandshake(main)
	if len(tokens) != 3 || tokens[0] != "main" || tokens[1] != "client1" || tokens[2] != "abc-def" {
		t.Fatalf("got %v", tokens)
	}

	data := dataHandshake("client1", "bind-9")
	if data != "data:client1:bind-9" {
		t.Fatalf("got %q", data)
	}
}
