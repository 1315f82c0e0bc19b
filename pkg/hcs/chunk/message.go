package chunk

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
)

// MaxContentSize is the largest chunk content that fits a single topic
// message once the JSON framing is added.
const MaxContentSize = 960

var dataURIPrefix = regexp.MustCompile(`^data:[^;,]*;base64,`)

// Message is one chunk of an HCS-1 file.
type Message struct {
	OrderingIndex int    `json:"o"`
	Content       string `json:"c"`
}

// DecodeMessage parses the {"o":..,"c":..} chunk JSON.
func DecodeMessage(data []byte) (*Message, error) {
	var raw struct {
		OrderingIndex *int    `json:"o"`
		Content       *string `json:"c"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	if raw.OrderingIndex == nil || raw.Content == nil {
		return nil, fmt.Errorf("%w: missing o or c", ErrMalformedChunk)
	}
	return &Message{OrderingIndex: *raw.OrderingIndex, Content: *raw.Content}, nil
}

// Bytes returns the wire JSON of the chunk.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// IsValid reports whether the chunk could belong to a file. Chunks are not
// bound to a topic so topicID is ignored.
func (m *Message) IsValid(topicID string) bool {
	if m.Content == "" || m.OrderingIndex < 0 {
		return false
	}
	return isBase64Fragment(stripPrefix(m.Content))
}

func stripPrefix(content string) string {
	if loc := dataURIPrefix.FindStringIndex(content); loc != nil {
		return content[loc[1]:]
	}
	return content
}

// isBase64Fragment checks the alphabet only; a fragment of a longer base64
// string need not be padded.
func isBase64Fragment(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '+', c == '/', c == '=':
		default:
			return false
		}
	}
	return true
}

var b64 = base64.StdEncoding
