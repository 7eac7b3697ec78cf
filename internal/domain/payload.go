package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PayloadKind is the variant tag of a Payload.
type PayloadKind string

const (
	PayloadKindNoop      PayloadKind = "NOOP"
	PayloadKindSendEmail PayloadKind = "SendEmail"
)

// Payload describes the unit of work carried by a job. The set of variants
// is closed: NoopPayload and SendEmailPayload.
type Payload interface {
	Kind() PayloadKind
	isPayload()
}

// NoopPayload is a marker job that does nothing.
type NoopPayload struct{}

// SendEmailPayload asks for an email to be sent to Email.
type SendEmailPayload struct {
	Email string
}

func (NoopPayload) Kind() PayloadKind      { return PayloadKindNoop }
func (SendEmailPayload) Kind() PayloadKind { return PayloadKindSendEmail }

func (NoopPayload) isPayload()      {}
func (SendEmailPayload) isPayload() {}

type sendEmailBody struct {
	Email *string `json:"email"`
}

// EncodePayload renders p in its stored form.
func EncodePayload(p Payload) ([]byte, error) {
	switch v := p.(type) {
	case NoopPayload:
		return json.Marshal(string(PayloadKindNoop))
	case SendEmailPayload:
		email := v.Email
		return encodeTagged(string(PayloadKindSendEmail), sendEmailBody{Email: &email})
	case nil:
		return nil, errors.New("encode payload: nil payload")
	default:
		return nil, fmt.Errorf("encode payload: unsupported variant %T", p)
	}
}

// DecodePayload parses the stored form of a payload. Anything that is not
// exactly one of the known variants yields a *DecodeError.
func DecodePayload(data []byte) (Payload, error) {
	tag, body, err := splitTag(data)
	if err != nil {
		return nil, &DecodeError{Column: "payload", Err: err}
	}

	switch PayloadKind(tag) {
	case PayloadKindNoop:
		if !isUnitBody(body) {
			return nil, &DecodeError{Column: "payload", Tag: tag, Err: errors.New("unit variant carries data")}
		}
		return NoopPayload{}, nil

	case PayloadKindSendEmail:
		if body == nil {
			return nil, &DecodeError{Column: "payload", Tag: tag, Err: errors.New("missing variant body")}
		}
		var b sendEmailBody
		if err := decodeStrict(body, &b); err != nil {
			return nil, &DecodeError{Column: "payload", Tag: tag, Err: err}
		}
		if b.Email == nil {
			return nil, &DecodeError{Column: "payload", Tag: tag, Err: errors.New("missing field \"email\"")}
		}
		return SendEmailPayload{Email: *b.Email}, nil
	}

	return nil, &DecodeError{Column: "payload", Tag: tag, Err: errors.New("unknown variant")}
}
