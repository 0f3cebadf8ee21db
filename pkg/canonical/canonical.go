// Package canonical produces the deterministic JSON form used as hashing input.
// Output follows RFC 8785: object keys sorted at every level, arrays kept in order,
// numbers and strings in their shortest canonical spelling.
package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize marshals v with encoding/json and rewrites the result canonically.
func Canonicalize(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return Transform(b)
}

// Transform canonicalizes an already encoded JSON document.
func Transform(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("canonical: empty input")
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

func String(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
