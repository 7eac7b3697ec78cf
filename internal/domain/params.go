package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ParamsKind is the variant tag of Params.
type ParamsKind string

const (
	ParamsKindNoop     ParamsKind = "NOOP"
	ParamsKindFollowUp ParamsKind = "FollowUp"
)

// Params carries optional execution parameters. A job without params has a
// nil Params.
type Params interface {
	Kind() ParamsKind
	isParams()
}

// NoopParams is an explicit "no parameters" value.
type NoopParams struct{}

// FollowUpParams says whether the handler should schedule a follow-up.
type FollowUpParams struct {
	Enabled bool
}

func (NoopParams) Kind() ParamsKind     { return ParamsKindNoop }
func (FollowUpParams) Kind() ParamsKind { return ParamsKindFollowUp }

func (NoopParams) isParams()     {}
func (FollowUpParams) isParams() {}

// WantsFollowUp reports whether p asks for a follow-up.
func WantsFollowUp(p Params) bool {
	f, ok := p.(FollowUpParams)
	return ok && f.Enabled
}

// EncodeParams renders p in its stored form.
func EncodeParams(p Params) ([]byte, error) {
	switch v := p.(type) {
	case NoopParams:
		return json.Marshal(string(ParamsKindNoop))
	case FollowUpParams:
		return encodeTagged(string(ParamsKindFollowUp), v.Enabled)
	case nil:
		return nil, errors.New("encode params: nil params")
	default:
		return nil, fmt.Errorf("encode params: unsupported variant %T", p)
	}
}

// DecodeParams parses the stored form of params.
func DecodeParams(data []byte) (Params, error) {
	tag, body, err := splitTag(data)
	if err != nil {
		return nil, &DecodeError{Column: "params", Err: err}
	}

	switch ParamsKind(tag) {
	case ParamsKindNoop:
		if !isUnitBody(body) {
			return nil, &DecodeError{Column: "params", Tag: tag, Err: errors.New("unit variant carries data")}
		}
		return NoopParams{}, nil

	case ParamsKindFollowUp:
		var enabled *bool
		if body == nil {
			return nil, &DecodeError{Column: "params", Tag: tag, Err: errors.New("missing variant body")}
		}
		if err := decodeStrict(body, &enabled); err != nil {
			return nil, &DecodeError{Column: "params", Tag: tag, Err: err}
		}
		if enabled == nil {
			return nil, &DecodeError{Column: "params", Tag: tag, Err: errors.New("expected a boolean, got null")}
		}
		return FollowUpParams{Enabled: *enabled}, nil
	}

	return nil, &DecodeError{Column: "params", Tag: tag, Err: errors.New("unknown variant")}
}

// EncodeOptionalParams encodes p, mapping nil to nil so that it is stored as SQL NULL.
func EncodeOptionalParams(p Params) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return EncodeParams(p)
}

// DecodeOptionalParams is the inverse of EncodeOptionalParams.
func DecodeOptionalParams(data []byte) (Params, error) {
	if data == nil {
		return nil, nil
	}
	return DecodeParams(data)
}
