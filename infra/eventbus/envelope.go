package eventbus

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/amirasaad/pixflow/pkg/eventbus"
)

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func encodeEnvelope(event eventbus.Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", event.Type(), err)
	}
	return json.Marshal(envelope{Type: event.Type(), Payload: data})
}

// decodeEnvelope returns the envelope type and, when the registry knows it,
// the decoded event.
func decodeEnvelope(raw []byte, registry eventbus.Registry) (string, eventbus.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("envelope has no type")
	}
	factory, ok := registry[env.Type]
	if !ok {
		return env.Type, nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	evt := factory()
	if err := json.Unmarshal(env.Payload, evt); err != nil {
		return env.Type, nil, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}
	return env.Type, evt, nil
}

// nameFor turns "Pix.StatusChanged" into "<prefix>:pix:statuschanged".
func nameFor(prefix, eventType string) string {
	parts := strings.Split(eventType, ".")
	for i := range parts {
		parts[i] = strings.ToLower(parts[i])
	}
	return prefix + ":" + strings.Join(parts, ":")
}

func streamNameFor(eventType string) string { return nameFor("events", eventType) }

func dlqStreamName(eventType string) string { return nameFor("dlq", eventType) }

func groupNameFor(group, eventType string) string { return nameFor(group, eventType) }
