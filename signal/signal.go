package signal

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ServerIdentity is the sender of every signal produced by the server itself.
const ServerIdentity = "server"

// Signal is the routed message unit exchanged between clients, extensions
// and server processes.
//
// The route is only ever parsed by SetRoute; Extension and Action are read-only.
type Signal struct {
	route     string
	extension string
	action    string

	Sender             string
	Recipient          string
	SenderConnectionID string
	Payload            []byte
}

// New returns a signal addressed to route.
func New(route string) *Signal {
	s := &Signal{}
	s.SetRoute(route)
	return s
}

// SetRoute lower-cases route and splits it on "/". Segment 0 becomes the
// extension. The action is set only when the route has exactly two segments,
// so "a/b/c" stays invalid. A route without a separator leaves both unset.
func (s *Signal) SetRoute(route string) {
	s.route = strings.ToLower(route)
	s.extension = ""
	s.action = ""

	if !strings.Contains(s.route, "/") {
		return
	}

	parts := strings.Split(s.route, "/")
	s.extension = parts[0]
	if len(parts) == 2 {
		s.action = parts[1]
	}
}

func (s *Signal) Route() string     { return s.route }
func (s *Signal) Extension() string { return s.extension }
func (s *Signal) Action() string    { return s.action }

// IsValid reports whether the signal can be routed: sender, extension and
// action must all be present.
func (s *Signal) IsValid() bool {
	return s.Sender != "" && s.extension != "" && s.action != ""
}

// IsValidResponse is IsValid plus a recipient, which outbound signals need.
func (s *Signal) IsValidResponse() bool {
	return s.IsValid() && s.Recipient != ""
}

// Bind decodes the JSON payload into v.
func (s *Signal) Bind(v any) error {
	if len(s.Payload) == 0 {
		return fmt.Errorf("signal %q: empty payload", s.route)
	}
	return json.Unmarshal(s.Payload, v)
}

// Clone returns a deep copy of s.
func (s *Signal) Clone() *Signal {
	c := *s
	if s.Payload != nil {
		c.Payload = append([]byte(nil), s.Payload...)
	}
	return &c
}

// String renders a single diagnostics line. It is not a wire format.
func (s *Signal) String() string {
	if s == nil {
		return "signal <nil>"
	}
	return fmt.Sprintf("signal route=%q sender=%q recipient=%q payload=%dB",
		s.route, s.Sender, s.Recipient, len(s.Payload))
}

// Encode turns v into a payload. Byte slices and strings are taken verbatim,
// anything else is JSON encoded.
func Encode(v any) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(v)
	}
}
