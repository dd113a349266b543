// Package proto implements the tally wire protocol: the frame codec, the
// server-side transfer session, the connection acceptor and the client
// driver.
//
// One file travels per connection:
//
//	client -> server: <name bytes> 0x00
//	client -> server: <size: uint32 little-endian> <size bytes of content>
//	server -> client: <length: uint32 little-endian> <length bytes of JSON result>
package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	// MaxNameLength bounds the name frame, terminator included. A reader
	// that sees this many bytes without a terminator fails with
	// ErrFrameTooLarge.
	MaxNameLength = 1024

	// ChunkSize is the buffer size used to stream payloads.
	ChunkSize = 8 * 1024

	// MaxMessageSize bounds a length-prefixed message.
	MaxMessageSize = 1 << 20

	// PrefixSize is the size of the size and length prefixes.
	PrefixSize = 4
)

// ValidateName reports whether name can be sent as a name frame.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrMalformedFrame)
	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("%w: name contains NUL byte", ErrMalformedFrame)
	case len(name) >= MaxNameLength:
		return fmt.Errorf("%w: name is %d bytes, limit %d", ErrFrameTooLarge, len(name), MaxNameLength-1)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: name is not valid UTF-8", ErrMalformedFrame)
	}
	return nil
}

// EncodeName returns the name frame for name. The name must already have
// passed ValidateName.
func EncodeName(name string) []byte {
	buf := make([]byte, 0, len(name)+1)
	buf = append(buf, name...)
	return append(buf, 0)
}

// WriteName validates name and writes its frame to w.
func WriteName(w io.Writer, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, err := w.Write(EncodeName(name)); err != nil {
		return fmt.Errorf("write name: %w", err)
	}
	return nil
}

// ReadName reads a name frame. It never consumes bytes past the terminator,
// so r can be the raw connection; a bufio.Reader avoids one syscall per byte.
func ReadName(r io.Reader) (string, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}

	buf := make([]byte, 0, 64)
	for len(buf) < MaxNameLength {
		b, err := br.ReadByte()
		if err != nil {
			return "", closedErr("read name", err)
		}
		if b == 0 {
			if len(buf) == 0 {
				return "", fmt.Errorf("%w: empty name", ErrMalformedFrame)
			}
			if !utf8.Valid(buf) {
				return "", fmt.Errorf("%w: name is not valid UTF-8", ErrMalformedFrame)
			}
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return "", fmt.Errorf("%w: no terminator within %d bytes", ErrFrameTooLarge, MaxNameLength)
}

type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		return 0, err
	}
	return b.buf[0], nil
}

// WriteSize writes a 4-byte little-endian size prefix.
func WriteSize(w io.Writer, size uint32) error {
	var buf [PrefixSize]byte
	binary.LittleEndian.PutUint32(buf[:], size)
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("write size: %w", err)
	}
	return nil
}

// ReadSize reads a 4-byte little-endian size prefix.
func ReadSize(r io.Reader) (uint32, error) {
	var buf [PrefixSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, closedErr("read size", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// CopyPayload streams exactly size bytes from src to dst in ChunkSize pieces.
// A peer that closes early yields ErrConnectionClosed; a failing dst yields
// an error classified as KindIO.
func CopyPayload(dst io.Writer, src io.Reader, size uint32) (int64, error) {
	buf := make([]byte, min(ChunkSize, int(size)))
	var written int64
	remaining := int64(size)

	for remaining > 0 {
		chunk := buf[:min(int64(len(buf)), remaining)]
		nr, rerr := src.Read(chunk)
		if nr > 0 {
			nw, werr := dst.Write(chunk[:nr])
			written += int64(nw)
			remaining -= int64(nw)
			if werr == nil && nw < nr {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return written, fmt.Errorf("%w: %w", errLocalIO, werr)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) && remaining > 0 {
				return written, fmt.Errorf("read payload: %w: got %d of %d bytes",
					ErrConnectionClosed, written, size)
			}
			if remaining > 0 {
				return written, closedErr("read payload", rerr)
			}
		}
	}
	return written, nil
}

// EncodeSizePrefixed returns p preceded by its little-endian length.
//
//nolint:gosec // G115: callers bound p to uint32 via the declared file size
func EncodeSizePrefixed(p []byte) []byte {
	buf := make([]byte, PrefixSize+len(p))
	binary.LittleEndian.PutUint32(buf, uint32(len(p)))
	copy(buf[PrefixSize:], p)
	return buf
}

// DecodeSizePrefixed reads a size-prefixed payload into memory. The buffer
// grows with the bytes actually received, not the declared size.
func DecodeSizePrefixed(r io.Reader) ([]byte, error) {
	size, err := ReadSize(r)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := CopyPayload(&buf, r, size); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteMessage writes a length-prefixed message. Prefix and body go out in a
// single Write.
//
//nolint:gosec // G115: len bounded by MaxMessageSize
func WriteMessage(w io.Writer, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, PrefixSize+len(msg))
	binary.LittleEndian.PutUint32(buf, uint32(len(msg)))
	copy(buf[PrefixSize:], msg)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed message, looping until the declared
// number of bytes has arrived.
func ReadMessage(r io.Reader) ([]byte, error) {
	var prefix [PrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, closedErr("read message length", err)
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: message length %d", ErrFrameTooLarge, n)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, closedErr("read message", err)
	}
	return msg, nil
}
