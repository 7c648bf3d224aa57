// Package events carries media triggers over Kafka.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Management event types.
const (
	TypeDelete = "media.v1.delete"
	TypeResize = "media.v1.resize"
)

// ErrMalformed marks a message that can never be handled, however often it is retried.
var ErrMalformed = errors.New("malformed message")

// Envelope wraps every management event.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type DeletePayload struct {
	MediaID string `json:"mediaId"`
}

type ResizePayload struct {
	MediaID string `json:"mediaId"`
	Width   int    `json:"width"`
}

func encodeEnvelope(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}

// DecodeEnvelope parses a management event.
func DecodeEnvelope(value []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &env, nil
}

// notification is the subset of an S3 or MinIO bucket notification we read.
type notification struct {
	Records []struct {
		S3 struct {
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// DecodeLandedKeys returns the object keys a storage-landed message refers to.
// The value is either the key itself or a bucket notification document whose
// keys are URL-encoded.
func DecodeLandedKeys(value []byte) ([]string, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrMalformed)
	}
	if value[0] != '{' {
		return []string{string(value)}, nil
	}

	var n notification
	if err := json.Unmarshal(value, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	keys := make([]string, 0, len(n.Records))
	for _, r := range n.Records {
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if strings.TrimSpace(key) != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: notification without object keys", ErrMalformed)
	}
	return keys, nil
}
