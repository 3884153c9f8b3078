// Package keygen turns caller-supplied keys into the string keys the store is indexed by.
//
// Every store key starts with a short prefix naming the kind of value it was built from,
// so values of different kinds never share a key even when their textual forms match
// (the int 42 and the string "42" are distinct keys):
//
//	k:  structured Key, GenerateKey() verbatim
//	s:  string
//	t:  fmt.Stringer
//	i:  signed or unsigned integer
//	f:  floating point number
//	b:  bool
//	x:  context.Context placeholder
//	j:  JSON encoding of any other value
//	h:  xxhash of a non-Key encoding longer than maxLen
//
// Structured keys implement Key and render themselves, conventionally as
// "{TypeName}::{discriminating fields}" (see Compose).
package keygen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/osmike/lazycache/internal/lib/errs"
)

// Maximum length for encoded keys before hashing
const maxLen = 100

// separator between the type name and the fields of a composed key.
const separator = "::"

const (
	prefixKey      = "k:"
	prefixString   = "s:"
	prefixStringer = "t:"
	prefixInt      = "i:"
	prefixFloat    = "f:"
	prefixBool     = "b:"
	prefixContext  = "x:"
	prefixJSON     = "j:"
	prefixHash     = "h:"
)

// fieldEscaper escapes the backslash first so an escaped ':' cannot be forged by a field.
var fieldEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

var (
	// ErrMarshallJSON indicates a failure to marshal a value to JSON.
	ErrMarshallJSON = errors.New("error marshalling to JSON")

	// ErrBuildKey indicates a failure to build a cache key from a value.
	ErrBuildKey = errors.New("error building cache key")

	// ErrNilKey is returned for a nil key or a Key that generated an empty string.
	ErrNilKey = errors.New("cache key is nil or empty")
)

// Key is implemented by structured cache keys.
//
// Two keys that are considered equal must generate byte-identical strings,
// and keys that are considered distinct should never collide.
type Key interface {
	GenerateKey() string
}

// Compose builds a key in the "{TypeName}::{f1}:{f2}..." convention.
//
// Fields are rendered with fmt.Sprint, so they should be values with a stable textual form.
// Any ':' or '\' inside the type name or a field is backslash-escaped, so
// Compose("T", "a:b", "c") and Compose("T", "a", "b:c") stay distinct.
func Compose(typeName string, fields ...any) string {
	var b strings.Builder
	fieldEscaper.WriteString(&b, typeName)
	b.WriteString(separator)
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(':')
		}
		fieldEscaper.WriteString(&b, fmt.Sprint(f))
	}
	return b.String()
}

// BuildKey returns the store key for value.
//
//   - nil: ErrNilKey.
//   - Key: GenerateKey() behind the "k:" prefix; an empty result is ErrNilKey.
//   - string: the string behind the "s:" prefix; the empty string is ErrNilKey.
//   - anything else: encoded deterministically; primitives, fmt.Stringer, slices, maps, structs, etc.
//
// If a non-Key encoding exceeds maxLen, it is hashed to ensure a consistent length.
// Returns an error if the value cannot be encoded.
func BuildKey(value any) (string, error) {
	switch k := value.(type) {
	case nil:
		return "", errs.NewError(ErrNilKey, nil)
	case Key:
		s := k.GenerateKey()
		if s == "" {
			return "", errs.NewError(ErrNilKey, map[string]any{
				"type": fmt.Sprintf("%T", value),
			})
		}
		return prefixKey + s, nil
	case string:
		if k == "" {
			return "", errs.NewError(ErrNilKey, nil)
		}
		return encodeString(prefixString + k), nil
	}

	encoded, err := encodeValue(value)
	if err != nil {
		return "", errs.NewError(ErrBuildKey, map[string]any{
			"operation": "building cache key",
			"value":     value,
			"error":     err,
		})
	}
	return encodeString(encoded), nil
}

// encodeValue encodes a single value into a string suitable for use as a cache key.
//
// For context.Context, returns a placeholder string.
func encodeValue(v any) (string, error) {
	switch val := v.(type) {
	case context.Context:
		// contexts are not serializable
		return prefixContext + "context", nil

	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, uintptr:
		return prefixInt + fmt.Sprint(val), nil

	case float32, float64:
		return prefixFloat + fmt.Sprint(val), nil

	case bool:
		return prefixBool + fmt.Sprint(val), nil

	case fmt.Stringer:
		return prefixStringer + val.String(), nil

	default:
		return encodeComplex(val)
	}
}

// encodeString hashes s if it exceeds maxLen.
func encodeString(s string) string {
	if len(s) > maxLen {
		return hashBytes([]byte(s))
	}
	return s
}

// encodeComplex encodes slices, maps and structs as JSON. encoding/json sorts map keys,
// so equal maps yield equal keys.
func encodeComplex(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errs.NewError(ErrMarshallJSON, map[string]any{
			"operation": "encoding complex value to build cache key",
			"value":     fmt.Sprintf("%T", v),
			"error":     err,
		})
	}
	return prefixJSON + string(data), nil
}

// hashBytes hashes the byte slice with xxhash and returns a fixed-width hex string.
// The input already carries its kind prefix, so hashes of different kinds differ.
func hashBytes(data []byte) string {
	return fmt.Sprintf(prefixHash+"%016x", xxhash.Sum64(data))
}
