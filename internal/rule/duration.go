package rule

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration accepts either a JSON number (milliseconds) or a Go duration
// string ("500ms", "10s", "1h30m"). It marshals back as milliseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	dec := newStrictDecoder(data)
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		if v < 0 {
			return fmt.Errorf("duration must be non-negative, got %v", v)
		}
		*d = Duration(time.Duration(v) * time.Millisecond)
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		if parsed < 0 {
			return fmt.Errorf("duration must be non-negative, got %q", v)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("duration must be milliseconds or a duration string, got %T", raw)
	}
}
