package chunk_test

import (
	"crypto/rand"
	mrand "math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/hcsdid/pkg/hcs/chunk"
)

// incompressible returns n random bytes so the chunk count is predictable.
func incompressible(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"small", []byte(`{"hello":"world"}`)},
		{"repetitive", []byte(strings.Repeat("hedera consensus service ", 2000))},
		{"six chunks", incompressible(t, 4000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, memo, err := chunk.Encode(tt.payload, chunk.EncodeOptions{})
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			for i, c := range chunks {
				assert.Equal(t, i, c.OrderingIndex)
				assert.LessOrEqual(t, len(c.Content), chunk.MaxContentSize)
				assert.True(t, c.IsValid(""))
			}

			got, err := chunk.Decode(chunks, memo)
			require.NoError(t, err)
			assert.Equal(t, len(tt.payload), len(got))
			assert.Equal(t, string(tt.payload), string(got))
		})
	}
}

func TestEncode_LargePayloadNeedsSixChunks(t *testing.T) {
	chunks, _, err := chunk.Encode(incompressible(t, 4000), chunk.EncodeOptions{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(chunks), 6)
	assert.True(t, strings.HasPrefix(chunks[0].Content, "data:application/json;base64,"))
}

func TestEncode_MaxChunkSize(t *testing.T) {
	chunks, memo, err := chunk.Encode(incompressible(t, 500), chunk.EncodeOptions{MaxChunkSize: 100, MimeType: "text/plain"})
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 6)
	assert.True(t, strings.HasPrefix(chunks[0].Content, "data:text/plain;base64,"))
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 100)
	}

	_, err = chunk.Decode(chunks, memo)
	require.NoError(t, err)
}

func TestDecode_OrderIndependent(t *testing.T) {
	payload := incompressible(t, 5000)
	chunks, memo, err := chunk.Encode(payload, chunk.EncodeOptions{})
	require.NoError(t, err)

	want, err := chunk.Decode(chunks, memo)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		shuffled := append([]*chunk.Message(nil), chunks...)
		mrand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := chunk.Decode(shuffled, memo)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDecode_MissingChunk(t *testing.T) {
	chunks, memo, err := chunk.Encode(incompressible(t, 4000), chunk.EncodeOptions{})
	require.NoError(t, err)

	for skip := range chunks {
		partial := append(append([]*chunk.Message(nil), chunks[:skip]...), chunks[skip+1:]...)
		_, err := chunk.Decode(partial, memo)
		if skip == len(chunks)-1 {
			// losing the tail leaves a contiguous prefix that fails the
			// integrity check instead
			assert.Error(t, err)
			continue
		}
		assert.ErrorIs(t, err, chunk.ErrIncomplete, "skip %d", skip)
	}

	_, err = chunk.Decode(nil, memo)
	assert.ErrorIs(t, err, chunk.ErrIncomplete)
}

func TestDecode_CorruptedContent(t *testing.T) {
	payload := []byte(strings.Repeat("abcdefgh", 300))
	_, memo, err := chunk.Encode(payload, chunk.EncodeOptions{})
	require.NoError(t, err)

	corrupted := append([]byte(nil), payload...)
	corrupted[100] ^= 0xff
	badChunks, _, err := chunk.Encode(corrupted, chunk.EncodeOptions{})
	require.NoError(t, err)

	_, err = chunk.Decode(badChunks, memo)
	assert.ErrorIs(t, err, chunk.ErrHashMismatch)
}

func TestDecode_CorruptedCompressedStream(t *testing.T) {
	chunks, memo, err := chunk.Encode(incompressible(t, 300), chunk.EncodeOptions{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	content := []byte(chunks[0].Content)
	pos := len(content) / 2
	if content[pos] == 'A' {
		content[pos] = 'B'
	} else {
		content[pos] = 'A'
	}

	_, err = chunk.Decode([]*chunk.Message{{OrderingIndex: 0, Content: string(content)}}, memo)
	assert.ErrorIs(t, err, chunk.ErrHashMismatch)
}

func TestDecode_MalformedBase64(t *testing.T) {
	_, memo, err := chunk.Encode([]byte("x"), chunk.EncodeOptions{})
	require.NoError(t, err)

	_, err = chunk.Decode([]*chunk.Message{{OrderingIndex: 0, Content: "data:application/json;base64,***"}}, memo)
	assert.ErrorIs(t, err, chunk.ErrMalformedChunk)
}

func TestDecode_DuplicateIndex(t *testing.T) {
	chunks, memo, err := chunk.Encode(incompressible(t, 2000), chunk.EncodeOptions{})
	require.NoError(t, err)

	withDup := append(append([]*chunk.Message(nil), chunks...), &chunk.Message{
		OrderingIndex: 1,
		Content:       chunks[1].Content,
	})
	_, err = chunk.Decode(withDup, memo)
	assert.NoError(t, err)

	withConflict := append(append([]*chunk.Message(nil), chunks...), &chunk.Message{
		OrderingIndex: 1,
		Content:       "AAAA",
	})
	_, err = chunk.Decode(withConflict, memo)
	assert.ErrorIs(t, err, chunk.ErrChunkConflict)
}

func TestDecode_UnsupportedCompression(t *testing.T) {
	chunks, memo, err := chunk.Encode([]byte("x"), chunk.EncodeOptions{})
	require.NoError(t, err)

	memo.Compression = "brotli"
	_, err = chunk.Decode(chunks, memo)
	assert.ErrorIs(t, err, chunk.ErrUnsupportedCompression)
}

func TestDecode_KnownHCS1File(t *testing.T) {
	content := "data:application/json;base64,KLUv/WBQAZUKACaZPhqAKc0BUmRjIzmfou0kBKXnwyhjwgb0BjQLMDYANgA3AHZCZfosvSPWKWaJ46vzkNVTqXBzQ6UUaIE37sFO7sdLNSUaic8QKYE+Vfw1IYNKT97xHidEEGbzQh60OJ88ocleGk6yjHvKOkUFnYNIy5gsaPEsx3vCEuheok+dCvdkY3IlCjr3dPFcrFSoYmhHAy1OEqpTWUL9kRIN2VsmyRO80LJ0VGnxlbgbG62ETpVw9J4DLYrZuI1LbhglLo9jJLaau1UAAQXWD2mjv9tJNJ+Xk8VsuKHn5toNEWQ0G+OjdpQMWlxeSmJ+qCMu76noEkuzGy1GaNGTJTkhIBCGmKM+abHchNqWJOA4YUgHBFO3P4Iwrrlpl69COfdK6a/dAbtd1YDOdtdIwLFaEDNwidIZx1DjZwJcOdLYcprkFtsCelo3xvARCv5ayWH93ro9"
	memo, err := chunk.ParseMemo("ea4d17b8c0cf44c215ade6b4ad36832672ea3188b1dad12b68c2472dfbcdeff1:zstd:base64")
	require.NoError(t, err)

	payload, err := chunk.Decode([]*chunk.Message{{OrderingIndex: 0, Content: content}}, memo)
	require.NoError(t, err)

	hash, err := chunk.Hash(payload)
	require.NoError(t, err)
	assert.Equal(t, memo.Hash, hash)
}

func TestParseMemo(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	memo, err := chunk.ParseMemo(hash + ":zstd:base64")
	require.NoError(t, err)
	assert.Equal(t, hash, memo.Hash)
	assert.Equal(t, "zstd", memo.Compression)
	assert.Equal(t, hash+":zstd:base64", memo.String())

	for _, bad := range []string{"invalid_topic_memo", "abc:zstd:base64", hash + "::base64", hash + ":zstd"} {
		_, err := chunk.ParseMemo(bad)
		assert.ErrorIs(t, err, chunk.ErrInvalidMemo, bad)
	}
}

func TestMessage_IsValid(t *testing.T) {
	assert.True(t, (&chunk.Message{OrderingIndex: 0, Content: "data:application/json;base64,KLUv"}).IsValid(""))
	assert.True(t, (&chunk.Message{OrderingIndex: 3, Content: "abc+/="}).IsValid(""))
	assert.False(t, (&chunk.Message{OrderingIndex: 0, Content: ""}).IsValid(""))
	assert.False(t, (&chunk.Message{OrderingIndex: -1, Content: "abc"}).IsValid(""))
	assert.False(t, (&chunk.Message{OrderingIndex: 0, Content: "not base64!"}).IsValid(""))
}

func TestDecodeMessage(t *testing.T) {
	m, err := chunk.DecodeMessage([]byte(`{"o":2,"c":"QUJD"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, m.OrderingIndex)
	assert.Equal(t, "QUJD", m.Content)

	_, err = chunk.DecodeMessage([]byte(`{"c":"QUJD"}`))
	assert.ErrorIs(t, err, chunk.ErrMalformedChunk)

	_, err = chunk.DecodeMessage([]byte(`not json`))
	assert.ErrorIs(t, err, chunk.ErrMalformedChunk)
}

func TestAssembler(t *testing.T) {
	payload := incompressible(t, 3000)
	chunks, memo, err := chunk.Encode(payload, chunk.EncodeOptions{})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	a := chunk.NewAssembler(memo)

	// deliver out of order, with a redelivery
	order := make([]int, len(chunks))
	for i := range order {
		order[i] = len(chunks) - 1 - i
	}
	for n, idx := range order {
		require.NoError(t, a.Add(chunks[idx]))
		require.NoError(t, a.Add(chunks[idx]))

		got, ok, err := a.TryAssemble()
		require.NoError(t, err)
		if n < len(order)-1 {
			assert.False(t, ok)
			continue
		}
		assert.True(t, ok)
		assert.Equal(t, payload, got)
	}

	err = a.Add(&chunk.Message{OrderingIndex: 0, Content: "QUJD"})
	assert.ErrorIs(t, err, chunk.ErrChunkConflict)
	assert.Equal(t, len(chunks), a.Len())
}

func TestAssembler_PrefixNotComplete(t *testing.T) {
	payload := incompressible(t, 3000)
	chunks, memo, err := chunk.Encode(payload, chunk.EncodeOptions{})
	require.NoError(t, err)

	a := chunk.NewAssembler(memo)
	require.NoError(t, a.Add(chunks[0]))
	require.NoError(t, a.Add(chunks[1]))
	assert.True(t, a.Contiguous())

	_, ok, err := a.TryAssemble()
	require.NoError(t, err)
	assert.False(t, ok)
}
