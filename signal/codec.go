package signal

import "encoding/json"

// wireSignal is the JSON shape of a Signal on the websocket and on the
// cluster bus. Payload bytes travel base64 encoded, so any payload survives
// the trip between processes unchanged.
type wireSignal struct {
	Route              string `json:"route"`
	Sender             string `json:"sender,omitempty"`
	Recipient          string `json:"recipient,omitempty"`
	SenderConnectionID string `json:"sender_connection_id,omitempty"`
	Payload            []byte `json:"payload,omitempty"`
}

func (s *Signal) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireSignal{
		Route:              s.route,
		Sender:             s.Sender,
		Recipient:          s.Recipient,
		SenderConnectionID: s.SenderConnectionID,
		Payload:            s.Payload,
	})
}

func (s *Signal) UnmarshalJSON(data []byte) error {
	var w wireSignal
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.SetRoute(w.Route)
	s.Sender = w.Sender
	s.Recipient = w.Recipient
	s.SenderConnectionID = w.SenderConnectionID
	s.Payload = w.Payload
	return nil
}

// Marshal encodes s for transport.
func Marshal(s *Signal) ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes a signal produced by Marshal.
func Unmarshal(data []byte) (*Signal, error) {
	s := &Signal{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}
