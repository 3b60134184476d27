package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the common frame of the client message channel. Payload stays
// raw until a handler knows which shape to decode it into.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// parseEnvelope rejects frames that are not JSON or carry no type. Anything
// beyond that is the handlers' business.
func parseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("frame has no type")
	}
	return env, nil
}

// envelopeOut is the general outbound frame. A nil payload is omitted.
type envelopeOut struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
}

// replyOut answers one sftp request. requestId and payload are always
// present; clients resolve their pending futures on the payload key, so a
// failed refresh still serializes as an explicit null.
type replyOut struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Payload   any    `json:"payload"`
}

// uploadOut is the upload protocol frame. Correlation runs on uploadId; the
// requestId of the originating frame is echoed for uniformity with the other
// sftp replies.
type uploadOut struct {
	Type      string `json:"type"`
	UploadID  string `json:"uploadId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// uploadSuccessOut reports a finished upload with the refreshed entry, which
// stays an explicit null when the post-write lstat failed.
type uploadSuccessOut struct {
	Type      string `json:"type"`
	UploadID  string `json:"uploadId"`
	RequestID string `json:"requestId,omitempty"`
	Path      string `json:"path"`
	Payload   any    `json:"payload"`
}
