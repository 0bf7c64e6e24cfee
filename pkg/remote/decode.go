package remote

import (
	"fmt"

	"github.com/whyfailclub/whyfail.go/internal/codec"
)

var rowCodec = codec.NewCBOR()

// Decode converts a row into T using the json (or cbor) field tags of T.
func Decode[T any](row Row) (T, error) {
	var out T
	if err := rowCodec.Convert(map[string]any(row), &out); err != nil {
		return out, fmt.Errorf("decode row into %T: %w", out, err)
	}
	return out, nil
}

func DecodeRows[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeValue converts an arbitrary result, e.g. of Invoke, into T.
func DecodeValue[T any](v any) (T, error) {
	var out T
	if err := rowCodec.Convert(v, &out); err != nil {
		return out, fmt.Errorf("decode %T into %T: %w", v, out, err)
	}
	return out, nil
}

// Encode converts a tagged struct into a Row.
func Encode(v any) (Row, error) {
	var out map[string]any
	if err := rowCodec.Convert(v, &out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return Row(out), nil
}
