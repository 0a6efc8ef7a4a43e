package event

import (
	"encoding/json"
	"fmt"

	"github.com/xASHx26/testflow-sub001/locator"
)

// MarshalPreview serialises a Preview to JSON.
func MarshalPreview(p *Preview) ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPreview deserialises a Preview from JSON.
func UnmarshalPreview(data []byte) (*Preview, error) {
	var p Preview
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.EventID == "" {
		return nil, fmt.Errorf("event: preview missing event_id")
	}
	return &p, nil
}

// MarshalSelection serialises a Selection to JSON. A nil locator slice
// is normalised to empty so the wire form always carries the key with
// an array.
func MarshalSelection(s *Selection) ([]byte, error) {
	if s != nil && s.Locators == nil {
		clone := *s
		clone.Locators = []locator.Locator{}
		return json.Marshal(&clone)
	}
	return json.Marshal(s)
}

// UnmarshalSelection deserialises a Selection from JSON.
func UnmarshalSelection(data []byte) (*Selection, error) {
	var s Selection
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.EventID == "" {
		return nil, fmt.Errorf("event: selection missing event_id")
	}
	return &s, nil
}
