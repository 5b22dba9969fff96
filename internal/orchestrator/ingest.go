package orchestrator

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrMalformedFrame means the transport payload was not a
// "<header>,<base64>" data URL the sensor client is supposed to send.
var ErrMalformedFrame = errors.New("malformed frame payload")

// decodeFramePayload splits the data-URL style payload and decodes the
// image bytes.
func decodeFramePayload(payload string) ([]byte, error) {
	_, encoded, ok := strings.Cut(payload, ",")
	if !ok || encoded == "" {
		return nil, ErrMalformedFrame
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformedFrame
	}
	return data, nil
}
