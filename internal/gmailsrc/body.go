package gmailsrc

import (
	"encoding/base64"

	gmail "google.golang.org/api/gmail/v1"
)

// PlainTextBody walks a message payload depth-first and returns the first
// text/plain leaf, decoded. Multipart containers nest arbitrarily; the
// leftmost plain-text part wins.
func PlainTextBody(payload *gmail.MessagePart) (string, bool) {
	if payload == nil {
		return "", false
	}

	if len(payload.Parts) > 0 {
		for _, part := range payload.Parts {
			if part.MimeType == "text/plain" {
				if text, ok := decodePartBody(part); ok {
					return text, true
				}
				continue
			}
			if len(part.Parts) > 0 {
				if text, ok := PlainTextBody(part); ok {
					return text, true
				}
			}
		}
		return "", false
	}

	if payload.MimeType == "text/plain" {
		return decodePartBody(payload)
	}
	return "", false
}

func decodePartBody(part *gmail.MessagePart) (string, bool) {
	if part.Body == nil || part.Body.Data == "" {
		return "", false
	}

	// Gmail encodes bodies as URL-safe base64, usually unpadded.
	data, err := base64.URLEncoding.DecodeString(part.Body.Data)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return "", false
		}
	}
	return string(data), true
}
