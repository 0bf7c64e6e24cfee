package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// QueryKey identifies one cacheable remote read, e.g.
//
//	models.NewQueryKey("journal-entries", userID)
//
// Parts must be primitive values (string, bool, integers, floats or nil).
// Two keys are equal when their parts have the same canonical JSON form in
// order. A string never equals a number or a bool, but numbers compare by
// value whatever their Go type, so int 1 and float64 1 name the same key.
type QueryKey []any

func NewQueryKey(parts ...any) QueryKey {
	return QueryKey(parts)
}

// Validate reports the first part that is not a primitive value.
func (k QueryKey) Validate() error {
	if len(k) == 0 {
		return fmt.Errorf("query key is empty")
	}
	for i, p := range k {
		switch p.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
		default:
			return fmt.Errorf("query key part %d has non-primitive type %T", i, p)
		}
	}
	return nil
}

// String is the canonical form of the key and is what maps are keyed by.
// Strings stay quoted so that "1" and 1 produce different keys.
func (k QueryKey) String() string {
	b, err := json.Marshal([]any(k))
	if err != nil {
		return fmt.Sprintf("%#v", []any(k))
	}
	return string(b)
}

func (k QueryKey) Equal(other QueryKey) bool {
	return k.String() == other.String()
}

// Root is the first part of the key, conventionally the name of the read.
func (k QueryKey) Root() string {
	if len(k) == 0 {
		return ""
	}
	s, _ := k[0].(string)
	return s
}

// Keys is a convenience constructor for an affected-keys list.
func Keys(keys ...QueryKey) []QueryKey {
	return keys
}
