// internal/content/codec.go
package content

import (
	"encoding/json"
	"fmt"

	"github.com/perimetric/beacon/internal/types"
)

/*
 * Versioned content serialization.
 *
 * Content objects cross process boundaries (durable caches, relay agent
 * responses), so each is wrapped in a versioned envelope {v, type, payload}.
 * Invariant: Decode(Encode(x)) reproduces all observable fields. Unknown
 * versions and mismatched types fail loudly rather than partially decoding.
 */

// CodecVersion is the current envelope version. Bump on breaking field
// changes; Decode rejects envelopes it does not understand.
const CodecVersion = 1

// content type tags used in envelopes.
const (
	typeNotification = "notification"
	typeSurvey       = "survey"
)

// envelope is the versioned wire wrapper for content objects.
type envelope struct {
	Version int             `json:"v"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeNotification wraps a notification in a versioned envelope.
func EncodeNotification(n *Notification) ([]byte, error) {
	return encode(typeNotification, n)
}

// DecodeNotification reverses EncodeNotification.
func DecodeNotification(data []byte) (*Notification, error) {
	var n Notification
	if err := decode(data, typeNotification, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// EncodeSurvey wraps a survey in a versioned envelope.
func EncodeSurvey(s *Survey) ([]byte, error) {
	return encode(typeSurvey, s)
}

// DecodeSurvey reverses EncodeSurvey.
func DecodeSurvey(data []byte) (*Survey, error) {
	var s Survey
	if err := decode(data, typeSurvey, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func encode(contentType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", contentType, err)
	}
	return json.Marshal(envelope{Version: CodecVersion, Type: contentType, Payload: raw})
}

func decode(data []byte, contentType string, dest any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode %s envelope: %w", contentType, err)
	}
	if env.Version != CodecVersion {
		return fmt.Errorf("%w: got v%d, support v%d", types.ErrUnknownContentVersion, env.Version, CodecVersion)
	}
	if env.Type != contentType {
		return fmt.Errorf("decode: envelope type %q, want %q", env.Type, contentType)
	}
	if err := json.Unmarshal(env.Payload, dest); err != nil {
		return fmt.Errorf("decode %s payload: %w", contentType, err)
	}
	return nil
}
