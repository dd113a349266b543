package proto

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/bamsammich/tally/internal/analysis"
)

// FileHeader is the name and declared size that precede a payload.
type FileHeader struct {
	Name string
	Size uint32
}

// WriteHeader writes the name frame followed by the size prefix.
func WriteHeader(w io.Writer, h FileHeader) error {
	if err := WriteName(w, h.Name); err != nil {
		return err
	}
	return WriteSize(w, h.Size)
}

// ReadHeader reads a name frame and a size prefix.
func ReadHeader(r io.Reader) (FileHeader, error) {
	name, err := ReadName(r)
	if err != nil {
		return FileHeader{}, err
	}
	size, err := ReadSize(r)
	if err != nil {
		return FileHeader{}, err
	}
	return FileHeader{Name: name, Size: size}, nil
}

// EncodeResult serializes r to the JSON body of a result message.
func EncodeResult(r analysis.Result) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}

// DecodeResult parses the JSON body of a result message.
func DecodeResult(data []byte) (analysis.Result, error) {
	var r analysis.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return analysis.Result{}, fmt.Errorf("%w: decode result: %w", ErrMalformedFrame, err)
	}
	return r, nil
}

// ReadResult reads one length-prefixed result message.
func ReadResult(r io.Reader) (analysis.Result, error) {
	msg, err := ReadMessage(r)
	if err != nil {
		return analysis.Result{}, err
	}
	return DecodeResult(msg)
}
