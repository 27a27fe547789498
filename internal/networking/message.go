package networking

import (
	"encoding/json"
	"errors"
	"fmt"
)

const rankingMessageType = "ranking"

// A speaker as ranked by the server.
type RankingEntry struct {
	ClientID string  `json:"clientId"`
	Name     string  `json:"name"`
	DBFS     float64 `json:"dbfs"`
	Text     string  `json:"text,omitempty"`
}

// Speakers ordered loudest first, exactly as the server sent them.
type Ranking []RankingEntry

// A message from the teacher socket. Either a RankingMessage or an UnknownMessage.
type Message interface {
	messageType() string
}

type RankingMessage struct {
	Ranking Ranking
}

func (RankingMessage) messageType() string { return rankingMessageType }

// A well-formed message of a type this client does not handle.
type UnknownMessage struct {
	Type string
}

func (m UnknownMessage) messageType() string { return m.Type }

// A teacher socket payload that could not be understood.
type ProtocolError struct {
	Payload []byte
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed message (%d bytes): %v", len(e.Payload), e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Parse a tagged teacher socket payload.
//
// Unknown types are not an error. Payloads that are not a JSON object with a
// string type, and ranking messages without a valid data array, are *ProtocolError.
func ParseMessage(payload []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &ProtocolError{Payload: payload, Err: err}
	}
	if env.Type == "" {
		return nil, &ProtocolError{Payload: payload, Err: errors.New("missing message type")}
	}
	if env.Type != rankingMessageType {
		return UnknownMessage{Type: env.Type}, nil
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &ProtocolError{Payload: payload, Err: errors.New("ranking message without data")}
	}
	var ranking Ranking
	if err := json.Unmarshal(env.Data, &ranking); err != nil {
		return nil, &ProtocolError{Payload: payload, Err: err}
	}
	return RankingMessage{Ranking: ranking}, nil
}
