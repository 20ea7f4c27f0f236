// Package attachment encodes message attachments into the opaque blob stored
// on a queue entry and decodes them back.
//
// The blob is a JSON array of objects with the file name, the content in
// standard base64 and the media type. Decoding is lenient about missing
// media types but rejects anything that is not a well-formed array.
package attachment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// DefaultMediaType is used when an attachment carries none.
const DefaultMediaType = "application/octet-stream"

// ErrMalformed marks a blob that cannot be decoded.
var ErrMalformed = errors.New("malformed attachment blob")

type wireAttachment struct {
	Name          string `json:"name"`
	ContentBase64 string `json:"content_base64"`
	MediaType     string `json:"media_type,omitempty"`
}

// Encode serializes items. It returns nil for an empty list.
func Encode(items []mailq.Attachment) ([]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}
	wire := make([]wireAttachment, 0, len(items))
	for i, a := range items {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return nil, fmt.Errorf("attachment %d has no name", i)
		}
		wire = append(wire, wireAttachment{
			Name:          name,
			ContentBase64: base64.StdEncoding.EncodeToString(a.Content),
			MediaType:     a.MediaType,
		})
	}
	return json.Marshal(wire)
}

// Decode parses a blob. A nil or empty blob is the None variant. On error it
// returns the None variant alongside an error wrapping ErrMalformed, so
// callers can log and carry on without attachments.
func Decode(blob []byte) (mailq.Attachments, error) {
	if len(strings.TrimSpace(string(blob))) == 0 {
		return mailq.NoAttachments(), nil
	}

	var wire []wireAttachment
	if err := json.Unmarshal(blob, &wire); err != nil {
		return mailq.NoAttachments(), fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	items := make([]mailq.Attachment, 0, len(wire))
	for i, w := range wire {
		if strings.TrimSpace(w.Name) == "" {
			return mailq.NoAttachments(), fmt.Errorf("%w: attachment %d has no name", ErrMalformed, i)
		}
		content, err := base64.StdEncoding.DecodeString(w.ContentBase64)
		if err != nil {
			return mailq.NoAttachments(), fmt.Errorf("%w: attachment %q: %v", ErrMalformed, w.Name, err)
		}
		mediaType := w.MediaType
		if mediaType == "" {
			mediaType = DefaultMediaType
		}
		items = append(items, mailq.Attachment{Name: w.Name, Content: content, MediaType: mediaType})
	}
	return mailq.InlineAttachments(items), nil
}
