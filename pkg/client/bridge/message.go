// Package bridge propagates the visitor identifier between cooperating
// contexts, such as a page and its embedded frames, over a shared channel.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"qx7/pkg/client/clearing"
	"qx7/pkg/visitorid"
)

// Type identifies a bridge message.
type Type string

const (
	TypeRequestID     Type = "request-qx7-id"
	TypeID            Type = "qx7-id"
	TypeSync          Type = "sync-qx7-id"
	TypeSyncLegacy    Type = "SYNC_QX7_ID"
	TypeCheckCleared  Type = "check-data-cleared"
	TypeClearedStatus Type = "data-cleared-status"
)

// AnyOrigin in the allow-list accepts messages from every origin.
const AnyOrigin = "*"

var (
	ErrMalformed = errors.New("malformed message")
	ErrInvalidID = errors.New("invalid identifier")
)

// Message is the JSON envelope exchanged over a Transport.
type Message struct {
	Type      Type                `json:"type"`
	Sender    string              `json:"sender"`
	Origin    string              `json:"origin"`
	Qx7ID     string              `json:"qx7Id,omitempty"`
	Timestamp int64               `json:"timestamp,omitempty"`
	Source    string              `json:"source,omitempty"`
	Detection *clearing.Detection `json:"detection,omitempty"`
}

// Decode parses and validates a raw message. Messages carrying an id must
// carry a valid one.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if m.Type == "" || m.Sender == "" {
		return Message{}, fmt.Errorf("%w: missing type or sender", ErrMalformed)
	}
	switch m.Type {
	case TypeSync, TypeSyncLegacy, TypeID:
		if !visitorid.IsValid(m.Qx7ID) {
			return Message{}, ErrInvalidID
		}
	}
	return m, nil
}

func (m Message) encode() ([]byte, error) {
	return json.Marshal(m)
}
