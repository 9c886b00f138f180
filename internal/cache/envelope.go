package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the JSON form of an entry in the session and local tiers.
// Times are unix milliseconds; a zero Expiry never expires. The local tier's
// quota fallback writes only Value.
type envelope struct {
	Value        json.RawMessage `json:"value"`
	Expiry       int64           `json:"expiry,omitempty"`
	AccessCount  int64           `json:"accessCount,omitempty"`
	LastAccessed int64           `json:"lastAccessed,omitempty"`
	Created      int64           `json:"created,omitempty"`
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if len(env.Value) == 0 {
		return nil, fmt.Errorf("%w: missing value", ErrCorrupted)
	}
	return &env, nil
}

func (e *envelope) expired(now time.Time) bool {
	return e.Expiry != 0 && now.UnixMilli() > e.Expiry
}

// decodeInto unmarshals the stored value into out, which must be a pointer.
func (e *envelope) decodeInto(out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(e.Value, out); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return nil
}
