package chunk

import (
	"encoding/hex"
	"fmt"
	"strings"

	mh "github.com/multiformats/go-multihash"
)

const (
	CompressionZstd = "zstd"
	EncodingBase64  = "base64"
)

// Memo is the HCS-1 topic memo "<sha256 hex>:<compression>:<encoding>".
type Memo struct {
	Hash        string
	Compression string
	Encoding    string
}

// ParseMemo validates an HCS-1 memo.
func ParseMemo(s string) (Memo, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Memo{}, fmt.Errorf("%w: %q", ErrInvalidMemo, s)
	}
	hash := strings.ToLower(parts[0])
	if b, err := hex.DecodeString(hash); err != nil || len(b) != 32 {
		return Memo{}, fmt.Errorf("%w: bad hash in %q", ErrInvalidMemo, s)
	}
	if parts[1] == "" || parts[2] == "" {
		return Memo{}, fmt.Errorf("%w: %q", ErrInvalidMemo, s)
	}
	return Memo{Hash: hash, Compression: parts[1], Encoding: parts[2]}, nil
}

func (m Memo) String() string {
	return m.Hash + ":" + m.Compression + ":" + m.Encoding
}

// Hash returns the hex sha2-256 digest of a payload.
func Hash(payload []byte) (string, error) {
	sum, err := mh.Sum(payload, mh.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("failed to hash payload: %w", err)
	}
	decoded, err := mh.Decode(sum)
	if err != nil {
		return "", fmt.Errorf("failed to decode multihash: %w", err)
	}
	return hex.EncodeToString(decoded.Digest), nil
}
