// Package codec holds the binary encoding shared by the wire backend, the
// embedded SQLite backend and row decoding.
package codec

import "io"

// Encoder writes one value per call to an underlying stream.
type Encoder interface {
	Encode(v any) error
}

// Decoder reads one value per call from an underlying stream.
type Decoder interface {
	Decode(v any) error
}

// Codec converts between Go values and one binary format, either whole
// buffers or streams of values.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, dst any) error
	NewEncoder(w io.Writer) Encoder
	NewDecoder(r io.Reader) Decoder
}

var _ Codec = (*CBOR)(nil)
