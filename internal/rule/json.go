package rule

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// newStrictDecoder returns a decoder that rejects unknown fields.
// All union arms decode through this so authoring typos surface as
// validation errors instead of being silently dropped.
func newStrictDecoder(data []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec
}

// decodeStrict unmarshals data into v, rejecting unknown fields and
// trailing garbage.
func decodeStrict(data []byte, v any) error {
	dec := newStrictDecoder(data)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

// peekType extracts the "type" discriminator from a union document
// without decoding the rest.
func peekType(data []byte) (string, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", err
	}
	if probe.Type == "" {
		return "", fmt.Errorf("missing %q discriminator", "type")
	}
	return probe.Type, nil
}
