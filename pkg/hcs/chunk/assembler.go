package chunk

import (
	"errors"
	"fmt"
)

// Assembler buffers chunks for one file as they arrive. It belongs to a
// single resolution and is not safe for concurrent use.
type Assembler struct {
	memo   Memo
	chunks map[int]*Message
	maxIdx int
}

// NewAssembler returns an empty buffer for the file described by memo.
func NewAssembler(memo Memo) *Assembler {
	return &Assembler{
		memo:   memo,
		chunks: make(map[int]*Message),
		maxIdx: -1,
	}
}

// Add buffers a chunk. Re-delivery of an identical chunk is ignored; a chunk
// whose content differs from the one already held for its index is
// rejected and the first one is kept.
func (a *Assembler) Add(m *Message) error {
	if m == nil || m.OrderingIndex < 0 {
		return ErrMalformedChunk
	}
	if prev, ok := a.chunks[m.OrderingIndex]; ok {
		if prev.Content != m.Content {
			return fmt.Errorf("%w: %d", ErrChunkConflict, m.OrderingIndex)
		}
		return nil
	}
	a.chunks[m.OrderingIndex] = m
	a.maxIdx = max(a.maxIdx, m.OrderingIndex)
	return nil
}

// Len returns the number of distinct chunks held.
func (a *Assembler) Len() int {
	return len(a.chunks)
}

// Contiguous reports whether indices 0..max are all present.
func (a *Assembler) Contiguous() bool {
	return a.maxIdx >= 0 && len(a.chunks) == a.maxIdx+1
}

// Assemble decodes the buffered chunks.
func (a *Assembler) Assemble() ([]byte, error) {
	chunks := make([]*Message, 0, len(a.chunks))
	for _, c := range a.chunks {
		chunks = append(chunks, c)
	}
	return Decode(chunks, a.memo)
}

// TryAssemble decodes only when the buffer is contiguous. It returns
// ok=false while more chunks may still complete the file.
func (a *Assembler) TryAssemble() (payload []byte, ok bool, err error) {
	if !a.Contiguous() {
		return nil, false, nil
	}
	payload, err = a.Assemble()
	switch {
	case err == nil:
		return payload, true, nil
	case errors.Is(err, ErrHashMismatch), errors.Is(err, ErrMalformedChunk):
		// a trailing chunk may still be in flight
		return nil, false, nil
	}
	return nil, false, err
}
