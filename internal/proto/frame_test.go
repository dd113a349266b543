package proto_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/tally/internal/analysis"
	"github.com/bamsammich/tally/internal/proto"
)

func TestSizePrefixedRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "single byte", payload: []byte{0}},
		{name: "text", payload: []byte("Hello world!")},
		{name: "exactly one chunk", payload: bytes.Repeat([]byte("a"), proto.ChunkSize)},
		{name: "several chunks", payload: bytes.Repeat([]byte("0123456789"), 3*proto.ChunkSize/10+7)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			encoded := proto.EncodeSizePrefixed(tt.payload)
			require.Len(t, encoded, proto.PrefixSize+len(tt.payload))
			assert.Equal(t, uint32(len(tt.payload)), binary.LittleEndian.Uint32(encoded))

			// One byte at a time exercises partial reads.
			got, err := proto.DecodeSizePrefixed(iotest.OneByteReader(bytes.NewReader(encoded)))
			require.NoError(t, err)
			assert.Equal(t, len(tt.payload), len(got))
			assert.True(t, bytes.Equal(tt.payload, got))
		})
	}
}

func TestSizePrefixedShortPayload(t *testing.T) {
	t.Parallel()

	encoded := proto.EncodeSizePrefixed([]byte("0123456789"))
	_, err := proto.DecodeSizePrefixed(bytes.NewReader(encoded[:proto.PrefixSize+3]))
	require.ErrorIs(t, err, proto.ErrConnectionClosed)
	assert.Equal(t, proto.KindConnection, proto.KindOf(err))
}

func TestSizePrefixedTruncatedPrefix(t *testing.T) {
	t.Parallel()

	_, err := proto.ReadSize(bytes.NewReader([]byte{1, 2}))
	assert.ErrorIs(t, err, proto.ErrConnectionClosed)
}

func TestNameRoundTrip(t *testing.T) {
	t.Parallel()

	names := []string{
		"a",
		"report.txt",
		"notes with spaces.md",
		"日本語.txt",
		strings.Repeat("n", proto.MaxNameLength-1),
	}
	for _, name := range names {
		var buf bytes.Buffer
		require.NoError(t, proto.WriteName(&buf, name))
		assert.Equal(t, byte(0), buf.Bytes()[buf.Len()-1])

		// Trailing bytes belong to the next frame and must stay unread.
		buf.WriteString("rest")
		got, err := proto.ReadName(&buf)
		require.NoError(t, err)
		assert.Equal(t, name, got)
		assert.Equal(t, "rest", buf.String())
	}
}

func TestReadNameUnbufferedReader(t *testing.T) {
	t.Parallel()

	r := iotest.OneByteReader(strings.NewReader("file.txt\x00\x05\x00\x00\x00"))
	got, err := proto.ReadName(r)
	require.NoError(t, err)
	assert.Equal(t, "file.txt", got)

	size, err := proto.ReadSize(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), size)
}

func TestReadNameErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{
			name:  "no terminator within bound",
			input: bytes.Repeat([]byte("x"), proto.MaxNameLength),
			want:  proto.ErrFrameTooLarge,
		},
		{
			name:  "terminator just past bound",
			input: append(bytes.Repeat([]byte("x"), proto.MaxNameLength), 0),
			want:  proto.ErrFrameTooLarge,
		},
		{
			name:  "empty name",
			input: []byte{0},
			want:  proto.ErrMalformedFrame,
		},
		{
			name:  "invalid utf-8",
			input: []byte{0xff, 0xfe, 0},
			want:  proto.ErrMalformedFrame,
		},
		{
			name:  "eof before terminator",
			input: []byte("partial"),
			want:  proto.ErrConnectionClosed,
		},
		{
			name:  "nothing sent",
			input: nil,
			want:  proto.ErrConnectionClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := proto.ReadName(bytes.NewReader(tt.input))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	assert.NoError(t, proto.ValidateName("ok.txt"))
	assert.ErrorIs(t, proto.ValidateName(""), proto.ErrMalformedFrame)
	assert.ErrorIs(t, proto.ValidateName("a\x00b"), proto.ErrMalformedFrame)
	assert.ErrorIs(t, proto.ValidateName("\xff"), proto.ErrMalformedFrame)
	assert.ErrorIs(t, proto.ValidateName(strings.Repeat("n", proto.MaxNameLength)), proto.ErrFrameTooLarge)

	var buf bytes.Buffer
	require.Error(t, proto.WriteName(&buf, ""))
	assert.Zero(t, buf.Len(), "nothing is written for an invalid name")
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, proto.WriteHeader(&buf, proto.FileHeader{Name: "data.csv", Size: 70000}))

	h, err := proto.ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, proto.FileHeader{Name: "data.csv", Size: 70000}, h)
}

func TestCopyPayloadDestinationFailure(t *testing.T) {
	t.Parallel()

	src := bytes.NewReader(bytes.Repeat([]byte("z"), 100))
	n, err := proto.CopyPayload(failWriter{}, src, 100)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Equal(t, proto.KindIO, proto.KindOf(err))
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("no space left on device") }

func TestCopyPayloadLeavesTrailingBytes(t *testing.T) {
	t.Parallel()

	src := bytes.NewReader([]byte("payloadNEXT"))
	var dst bytes.Buffer
	n, err := proto.CopyPayload(&dst, src, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "payload", dst.String())
	assert.Equal(t, 4, src.Len())
}

func TestResultMessageRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 17, 11, 30, 15, 123456789, time.FixedZone("CEST", 2*60*60))
	want := analysis.New("hello.txt", analysis.Counts{LineCount: 3, WordCount: 9, CharCount: 52}, at)

	data, err := proto.EncodeResult(want)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"fileName":"hello.txt"`)
	assert.Contains(t, string(data), `"analyzedAt":"2026-10-17T09:30:15.123456789Z"`)

	var buf bytes.Buffer
	require.NoError(t, proto.WriteMessage(&buf, data))

	got, err := proto.ReadResult(iotest.HalfReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, want.FileName, got.FileName)
	assert.Equal(t, want.Counts(), got.Counts())
	assert.True(t, want.AnalyzedAt.Equal(got.AnalyzedAt))
}

func TestReadMessageErrors(t *testing.T) {
	t.Parallel()

	t.Run("oversized length", func(t *testing.T) {
		t.Parallel()
		var prefix [proto.PrefixSize]byte
		binary.LittleEndian.PutUint32(prefix[:], proto.MaxMessageSize+1)
		_, err := proto.ReadMessage(bytes.NewReader(prefix[:]))
		assert.ErrorIs(t, err, proto.ErrFrameTooLarge)
	})

	t.Run("truncated body", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, proto.WriteMessage(&buf, []byte(`{"fileName":"x"}`)))
		_, err := proto.ReadMessage(bytes.NewReader(buf.Bytes()[:buf.Len()-2]))
		assert.ErrorIs(t, err, proto.ErrConnectionClosed)
	})

	t.Run("undecodable json", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, proto.WriteMessage(&buf, []byte("not json")))
		_, err := proto.ReadResult(&buf)
		assert.ErrorIs(t, err, proto.ErrMalformedFrame)
	})

	t.Run("oversized write", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		err := proto.WriteMessage(&buf, make([]byte, proto.MaxMessageSize+1))
		assert.ErrorIs(t, err, proto.ErrFrameTooLarge)
		assert.Zero(t, buf.Len())
	})
}
