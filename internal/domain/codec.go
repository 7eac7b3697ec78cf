package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Variants are stored externally tagged: a unit variant is its tag as a JSON
// string ("NOOP"), a variant with data is a single-key object whose key is
// the tag ({"SendEmail":{"email":"..."}}).

var errNotTagged = errors.New("expected a tag string or a single-key object")

// splitTag separates the variant tag from its body. body is nil for the
// bare string form.
func splitTag(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, errors.New("empty input")
	}

	switch data[0] {
	case '"':
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, err
		}
		return tag, nil, nil

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return "", nil, err
		}
		if len(fields) != 1 {
			return "", nil, fmt.Errorf("%w, got %d keys", errNotTagged, len(fields))
		}
		for tag, body := range fields {
			return tag, body, nil
		}
	}

	return "", nil, errNotTagged
}

// isUnitBody reports whether body is acceptable for a variant without data.
func isUnitBody(body json.RawMessage) bool {
	return body == nil || bytes.Equal(bytes.TrimSpace(body), []byte("null"))
}

// decodeStrict unmarshals body into dst rejecting unknown fields and trailing data.
func decodeStrict(body json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// encodeTagged renders a variant with data as {"tag": body}.
func encodeTagged(tag string, body any) ([]byte, error) {
	return json.Marshal(map[string]any{tag: body})
}
