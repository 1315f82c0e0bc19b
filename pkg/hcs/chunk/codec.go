// Package chunk implements the HCS-1 file codec: a payload is compressed,
// base64 encoded behind a data URI prefix, and split into ordered chunk
// messages; the topic memo carries the payload hash.
package chunk

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var (
	ErrIncomplete             = errors.New("chunk set is incomplete")
	ErrHashMismatch           = errors.New("payload does not match memo hash")
	ErrMalformedChunk         = errors.New("malformed chunk")
	ErrChunkConflict          = errors.New("conflicting chunk for ordering index")
	ErrInvalidMemo            = errors.New("memo is not compliant with HCS-1")
	ErrUnsupportedCompression = errors.New("unsupported compression")
)

const DefaultMimeType = "application/json"

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression), zstd.WithZeroFrames(true))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
)

// EncodeOptions tunes Encode. The zero value is usable.
type EncodeOptions struct {
	// MimeType goes into the data URI prefix. Defaults to application/json.
	MimeType string
	// MaxChunkSize caps each chunk's content; values outside (0, 960] mean 960.
	MaxChunkSize int
}

// Encode splits payload into chunk messages and returns the matching memo.
// The result always has at least one chunk.
func Encode(payload []byte, opts EncodeOptions) ([]*Message, Memo, error) {
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	size := opts.MaxChunkSize
	if size <= 0 || size > MaxContentSize {
		size = MaxContentSize
	}

	hash, err := Hash(payload)
	if err != nil {
		return nil, Memo{}, err
	}

	compressed := zstdEncoder.EncodeAll(payload, nil)
	content := "data:" + mimeType + ";base64," + b64.EncodeToString(compressed)

	chunks := make([]*Message, 0, len(content)/size+1)
	for i := 0; i < len(content); i += size {
		end := min(i+size, len(content))
		chunks = append(chunks, &Message{
			OrderingIndex: len(chunks),
			Content:       content[i:end],
		})
	}

	return chunks, Memo{Hash: hash, Compression: CompressionZstd, Encoding: EncodingBase64}, nil
}

// Decode reassembles chunks in any order and checks the result against memo.
func Decode(chunks []*Message, memo Memo) ([]byte, error) {
	ordered, err := order(chunks)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, c := range ordered {
		sb.WriteString(c.Content)
	}

	if memo.Encoding != EncodingBase64 {
		return nil, fmt.Errorf("%w: encoding %q", ErrInvalidMemo, memo.Encoding)
	}
	data, err := b64.DecodeString(stripPrefix(sb.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}

	payload, err := decompress(memo.Compression, data)
	if err != nil {
		return nil, err
	}

	hash, err := Hash(payload)
	if err != nil {
		return nil, err
	}
	if hash != strings.ToLower(memo.Hash) {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrHashMismatch, hash, memo.Hash)
	}
	return payload, nil
}

func decompress(algo string, data []byte) ([]byte, error) {
	switch algo {
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			// a damaged stream is an integrity failure like a digest mismatch
			return nil, fmt.Errorf("%w: zstd: %v", ErrHashMismatch, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, algo)
}

// order sorts chunks by index, dropping exact duplicates, and requires the
// indices to run 0..n-1 without gaps.
func order(chunks []*Message) ([]*Message, error) {
	if len(chunks) == 0 {
		return nil, ErrIncomplete
	}

	byIndex := make(map[int]*Message, len(chunks))
	for _, c := range chunks {
		if c == nil || c.OrderingIndex < 0 {
			return nil, ErrMalformedChunk
		}
		if prev, ok := byIndex[c.OrderingIndex]; ok {
			if prev.Content != c.Content {
				return nil, fmt.Errorf("%w: %d", ErrChunkConflict, c.OrderingIndex)
			}
			continue
		}
		byIndex[c.OrderingIndex] = c
	}

	ordered := make([]*Message, 0, len(byIndex))
	for _, c := range byIndex {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].OrderingIndex < ordered[j].OrderingIndex
	})

	for i, c := range ordered {
		if c.OrderingIndex != i {
			return nil, fmt.Errorf("%w: missing index %d", ErrIncomplete, i)
		}
	}
	return ordered, nil
}
