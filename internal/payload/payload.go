// Package payload builds and serializes webhook request bodies.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Priya8975/model-webhooks/internal/errs"
)

// Event is the body sent for a lifecycle event. Only the subject's id is
// included, never the full record.
type Event struct {
	Object      ObjectRef `json:"object"`
	Topic       string    `json:"topic"`
	ObjectType  string    `json:"object_type"`
	WebhookUUID string    `json:"webhook_uuid"`
}

type ObjectRef struct {
	ID any `json:"id"`
}

// NewObjectRef keeps integer ids numeric on the wire.
func NewObjectRef(id string) ObjectRef {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return ObjectRef{ID: json.Number(id)}
	}
	return ObjectRef{ID: id}
}

// Encoder serializes payloads.
type Encoder interface {
	Name() string
	Encode(v any) ([]byte, error)
}

const (
	EncoderJSON       = "json"
	EncoderJSONIndent = "json-indent"
)

type jsonEncoder struct {
	indent string
}

func (e jsonEncoder) Name() string {
	if e.indent != "" {
		return EncoderJSONIndent
	}
	return EncoderJSON
}

func (e jsonEncoder) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if e.indent != "" {
		enc.SetIndent("", e.indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// JSON is the default encoder.
func JSON() Encoder { return jsonEncoder{} }

// Lookup returns the encoder registered under name.
func Lookup(name string) (Encoder, error) {
	switch name {
	case "", EncoderJSON:
		return jsonEncoder{}, nil
	case EncoderJSONIndent:
		return jsonEncoder{indent: "  "}, nil
	default:
		return nil, errs.Configuration(
			fmt.Sprintf("unknown payload encoder %q", name),
			map[string]any{"encoder": name},
		)
	}
}
