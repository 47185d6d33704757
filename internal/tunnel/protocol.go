package tunnel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark0725/natproxy-go/internal/config"
)

// dateTimeLayout renders the "time" field the same way
// original_source/src/utils/util_date.rs's get_datetime14 does:
// YYYYMMDDHHMMSS, local time. Diagnostic only, never parsed back
// (spec.md §3).
const dateTimeLayout = "20060102150405"

func now14() string {
	return time.Now().Format(dateTimeLayout)
}

// newID mints a fresh lowercase-hex-with-dashes UUID, used for both
// BindId and ProtoCmd.id (spec.md §3).
func newID() string {
	return uuid.NewString()
}

// splitHandshake splits a handshake frame payload on ':'. Tokens are
// opaque; there is no escaping (spec.md §6).
func splitHandshake(s string) []string {
	return strings.Split(s, ":")
}

// mainHandshake builds the client's control-channel handshake frame:
// "main:<client_name>:<client_id>" (spec.md §4.3).
func mainHandshake(clientName, clientID string) string {
	return fmt.Sprintf("main:%s:%s", clientName, clientID)
}

// dataHandshake builds a data channel's handshake frame:
// "data:<client_id>:<bind_id>" (spec.md §4.1/§4.6).
func dataHandshake(clientID, bindID string) string {
	return fmt.Sprintf("data:%s:%s", clientID, bindID)
}

// clientPeerName is the hard-coded name every ProxyRequest names as the
// target client (spec.md §9 "Hard-coded peer names"). Multi-client
// support is a declared direction in the original but out of scope here.
const clientPeerName = "client1"

// ProtoCmdBody is the untagged union carried by a ProtoCmdRequest or
// ProtoCmdResponse. It is one flat struct holding the fields of all three
// variants; the wire format has no type tag -- the variant is resolved by
// field presence (spec.md §6, §9 "Untagged protocol unions"): "mappings"
// selects ClientConfData, "mapping" selects ProxyRequest, "mapping_name"
// selects ProxyResponse.
type ProtoCmdBody struct {
	// ClientConfData fields. Reserved: never produced or consumed by
	// this implementation (spec.md §9 Open Questions).
	Mappings []config.MappingConfig `json:"mappings,omitempty"`

	// ProxyRequest fields.
	BindID  string                `json:"bind_id,omitempty"`
	Client  string                `json:"client,omitempty"`
	Mapping *config.MappingConfig `json:"mapping,omitempty"`

	// ProxyResponse's extra field. Reserved, like ClientConfData.
	MappingName string `json:"mapping_name,omitempty"`
}

// NewProxyRequestBody builds the body of a server->client "conn" request.
func NewProxyRequestBody(bindID string, mapping config.MappingConfig) *ProtoCmdBody {
	return &ProtoCmdBody{BindID: bindID, Client: clientPeerName, Mapping: &mapping}
}

// IsProxyRequest reports whether this body decoded as a ProxyRequest
// variant (presence of "mapping", per the untagged-union resolution
// rule).
func (b *ProtoCmdBody) IsProxyRequest() bool {
	return b != nil && b.Mapping != nil
}

// ProtoCmdRequest is a control-plane request, always carrying a type tag
// and an id that any Response must echo (spec.md §3).
type ProtoCmdRequest struct {
	ID      string        `json:"id"`
	CmdType string        `json:"cmd_type"`
	Body    *ProtoCmdBody `json:"body,omitempty"`
	Time    string        `json:"time"`
}

// NewRequest mints a new ProtoCmdRequest with a fresh id and current
// timestamp.
func NewRequest(cmdType string, body *ProtoCmdBody) ProtoCmdRequest {
	return ProtoCmdRequest{ID: newID(), CmdType: cmdType, Body: body, Time: now14()}
}

// ProtoCmdResponse is a control-plane response, echoing the originating
// request's id and cmd_type (spec.md §3).
type ProtoCmdResponse struct {
	ID      string        `json:"id"`
	CmdType string        `json:"cmd_type"`
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Body    *ProtoCmdBody `json:"body,omitempty"`
	Time    string        `json:"time"`
}

// NewResponse builds a ProtoCmdResponse echoing a request's id/cmd_type.
func NewResponse(id, cmdType, status, message string, body *ProtoCmdBody) ProtoCmdResponse {
	return ProtoCmdResponse{ID: id, CmdType: cmdType, Status: status, Message: message, Body: body, Time: now14()}
}

// ProtoCmd is the tagged-by-field-presence union of ProtoCmdRequest and
// ProtoCmdResponse (spec.md §3, §6): on the wire, a ProtoCmd is encoded as
// either object directly; "status"+"message" distinguish a Response from
// a Request, mirroring Rust's #[serde(untagged)] enum.
type ProtoCmd struct {
	Request  *ProtoCmdRequest
	Response *ProtoCmdResponse
}

// MarshalJSON encodes whichever variant is set, untagged.
func (c ProtoCmd) MarshalJSON() ([]byte, error) {
	if c.Response != nil {
		return json.Marshal(c.Response)
	}
	if c.Request != nil {
		return json.Marshal(c.Request)
	}
	return nil, fmt.Errorf("natproxy: empty ProtoCmd")
}

// UnmarshalJSON resolves the variant by field presence: an object with
// both "status" and "message" is a Response, otherwise it is a Request.
func (c *ProtoCmd) UnmarshalJSON(data []byte) error {
	var probe struct {
		Status  *string `json:"status"`
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Status != nil && probe.Message != nil {
		var resp ProtoCmdResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return err
		}
		c.Response = &resp
		c.Request = nil
		return nil
	}
	var req ProtoCmdRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	c.Request = &req
	c.Response = nil
	return nil
}
