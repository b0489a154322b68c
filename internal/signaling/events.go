// Package signaling is the realtime channel between the two call
// participants: durable rows in Postgres, push delivery over Redis pub/sub.
// Every payload is persisted before it is published, so a participant who
// missed the push can still recover state from the store.
package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/reelchat/call-service/internal/domain"
)

// Envelope kinds multiplexed over the per-call channel.
const (
	kindSignal  = "signal"
	kindMessage = "message"
	kindSession = "session"
)

// envelope is the wire frame on the per-call and incoming channels. Exactly
// one of the payload fields is set, keyed by Kind.
type envelope struct {
	Kind    string              `json:"kind"`
	Signal  *domain.CallSignal  `json:"signal,omitempty"`
	Message *domain.CallMessage `json:"message,omitempty"`
	Session *domain.CallSession `json:"session,omitempty"`
}

func decodeEnvelope(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	switch env.Kind {
	case kindSignal:
		if env.Signal == nil {
			return envelope{}, fmt.Errorf("malformed envelope: signal kind without signal")
		}
	case kindMessage:
		if env.Message == nil {
			return envelope{}, fmt.Errorf("malformed envelope: message kind without message")
		}
	case kindSession:
		if env.Session == nil {
			return envelope{}, fmt.Errorf("malformed envelope: session kind without session")
		}
	default:
		return envelope{}, fmt.Errorf("malformed envelope: unknown kind %q", env.Kind)
	}
	return env, nil
}

// DeliveryError reports a failed publish to a realtime channel. The durable
// row may still exist; callers decide whether that is fatal for the call.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver to %s: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func eventsChannel(callID string) string {
	return "call:events:" + callID
}

func incomingChannel(userID string) string {
	return "call:incoming:" + userID
}
