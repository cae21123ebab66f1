package persistence

import (
	"bytes"
	"encoding/gob"
)

// EncodePayload serializes a history payload using encoding/gob.
// Payload values must be gob-encodable; api registers the common concrete
// types (map[string]any, []string, time.Time) at init.
func EncodePayload(p map[string]any) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePayload deserializes a gob-encoded history payload.
func DecodePayload(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p map[string]any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// CloneValue deep-copies an arbitrary gob-encodable value. The executor
// uses it to hand out snapshots that share no memory with live state.
func CloneValue(v any, out any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	return gob.NewDecoder(&buf).Decode(out)
}
