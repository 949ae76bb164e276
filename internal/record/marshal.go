package record

import (
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// marshalPayload serializes a payload to JSON TEXT for storage. A nil
// payload stores as the empty object.
func marshalPayload(p Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload parses stored JSON TEXT back into a payload.
func unmarshalPayload(data string) (Payload, error) {
	if data == "" || data == "{}" {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}

// normalizeID applies NFC at the accessor boundary so that ids differing
// only in Unicode composition address the same record.
func normalizeID(id string) string {
	return norm.NFC.String(id)
}
