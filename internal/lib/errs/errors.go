// Package errs holds the error helpers shared by the lazycache packages.
package errs

import (
	"fmt"
	"sort"
)

// NewError wraps an error with additional context fields for structured error reporting.
//
//   - errType: The sentinel error to wrap. errors.Is keeps working on the result.
//   - kv: Key-value pairs providing additional context. Keys are rendered in sorted order.
//
// Returns an error that includes both the original error and the provided fields.
func NewError(errType error, kv map[string]any) error {
	if len(kv) == 0 {
		return fmt.Errorf("[lazycache error], [%w]", errType)
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var details string
	for _, k := range keys {
		switch val := kv[k].(type) {
		case error:
			details += fmt.Sprintf("%s: %v; ", k, val.Error())
		default:
			details += fmt.Sprintf("%s: %v; ", k, val)
		}
	}
	return fmt.Errorf("[lazycache error], [%w], details: [%s]", errType, details)
}

// FromPanic converts a recovered panic value into an error wrapping errType.
func FromPanic(errType error, r any) error {
	var cause error
	switch x := r.(type) {
	case error:
		cause = x
	case string:
		cause = fmt.Errorf("%s", x)
	default:
		cause = fmt.Errorf("%v", x)
	}
	return NewError(errType, map[string]any{"panic": cause})
}
