package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/google/uuid"
)

// wireVersion is bumped when the envelope changes incompatibly.
const wireVersion = 1

// MarshalEvent encodes event as a shared.EventEnvelope stamped with the
// publishing instance.
func MarshalEvent(instanceID string, event shared.Event) ([]byte, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return nil, fmt.Errorf("eventbus: encode %s payload: %w", event.EventType(), err)
	}

	env := shared.EventEnvelope{
		ID:          uuid.NewString(),
		Source:      instanceID,
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     wireVersion,
		Payload:     payload,
	}
	if c, ok := event.(correlated); ok {
		env.CorrelationID = c.Correlation()
	}
	return json.Marshal(env)
}

// UnmarshalEvent decodes an envelope and returns its source instance with
// the event. Payload numbers decode as json.Number, so amounts keep every
// digit.
func UnmarshalEvent(data []byte) (string, shared.Event, error) {
	var env shared.EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("eventbus: decode envelope: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("eventbus: envelope %q without type: %w", env.ID, ErrEventNotSupported)
	}

	ev := &wireEvent{
		kind:        env.Type,
		aggregate:   env.AggregateID,
		at:          env.Timestamp,
		correlation: env.CorrelationID,
		payload:     map[string]interface{}{},
	}
	if len(env.Payload) > 0 {
		dec := json.NewDecoder(bytes.NewReader(env.Payload))
		dec.UseNumber()
		if err := dec.Decode(&ev.payload); err != nil {
			return "", nil, fmt.Errorf("eventbus: decode %s payload: %w", env.Type, err)
		}
	}
	return env.Source, ev, nil
}

type correlated interface{ Correlation() string }

// wireEvent is a shared.Event rebuilt from an envelope. Handlers read it
// through the shared.Payload* accessors.
type wireEvent struct {
	kind        shared.EventType
	aggregate   string
	at          time.Time
	correlation string
	payload     map[string]interface{}
}

func (e *wireEvent) EventType() shared.EventType     { return e.kind }
func (e *wireEvent) AggregateID() string             { return e.aggregate }
func (e *wireEvent) OccurredAt() time.Time           { return e.at }
func (e *wireEvent) Payload() map[string]interface{} { return e.payload }
func (e *wireEvent) Correlation() string             { return e.correlation }
