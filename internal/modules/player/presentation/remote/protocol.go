// Package remote exposes guild player control and state sync to external
// clients over WebSocket. Clients issue the same commands Discord users
// can, correlated by request ID, and receive the per-guild state stream.
package remote

import (
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"

	"github.com/cadenza-bot/cadenza/internal/modules/player/domain"
)

// Inbound message types.
const (
	TypeCommand     = "command"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Outbound message types.
const (
	TypeHello   = "hello"
	TypeResult  = "result"
	TypeState   = "state"
	TypeDiff    = "diff"
	TypeSession = "session"
)

// ProtocolVersion is bumped on incompatible wire format changes.
const ProtocolVersion = 1

// InboundMessage is a client-to-host frame.
type InboundMessage struct {
	Type    string          `json:"type"`
	ID      uuid.UUID       `json:"id"`
	GuildID snowflake.ID    `json:"guild_id,omitempty"`
	Command *domain.Command `json:"command,omitempty"`
}

// OutboundMessage is a host-to-client frame. Exactly the fields relevant
// to Type are set.
type OutboundMessage struct {
	Type string `json:"type"`

	// hello
	ClientID string `json:"client_id,omitempty"`
	Version  int    `json:"version,omitempty"`

	// result, correlated with the inbound request ID
	ID    *uuid.UUID `json:"id,omitempty"`
	OK    bool       `json:"ok,omitempty"`
	Error string     `json:"error,omitempty"`

	// state: a nil State means no active session for the guild
	GuildID snowflake.ID        `json:"guild_id,omitempty"`
	State   *domain.PlayerState `json:"state,omitempty"`

	// diff
	Diff *domain.StateDiff `json:"diff,omitempty"`

	// session
	Event  string                  `json:"event,omitempty"`
	Reason domain.SessionEndReason `json:"reason,omitempty"`
}

func helloMessage(clientID string) OutboundMessage {
	return OutboundMessage{
		Type:     TypeHello,
		ClientID: clientID,
		Version:  ProtocolVersion,
	}
}

func resultMessage(id uuid.UUID, err error) OutboundMessage {
	msg := OutboundMessage{
		Type: TypeResult,
		ID:   &id,
		OK:   err == nil,
	}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}

func errorMessage(reason string) OutboundMessage {
	return OutboundMessage{
		Type:  TypeResult,
		Error: reason,
	}
}
