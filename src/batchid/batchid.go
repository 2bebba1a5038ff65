// Package batchid generates and parses the identifiers assigned to accepted invoice batches.
//
// An identifier is a random UUID (version 4, RFC 4122 variant) in its canonical
// lowercase 8-4-4-4-12 text form. The text form is the only representation that
// crosses process boundaries.
package batchid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// canonicalLen is the length of the 8-4-4-4-12 hexadecimal grouping.
const canonicalLen = 36

// ErrFormat is matched by every *FormatError via errors.Is.
var ErrFormat = errors.New("invalid batch id format")

// FormatError reports why a string is not a valid batch identifier.
type FormatError struct {
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid batch id %q: %s", e.Value, e.Reason)
}

// Is makes errors.Is(err, ErrFormat) true for any *FormatError.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// ID is an immutable batch identifier. The zero value is not a valid ID.
type ID struct {
	value string
}

// Generate returns a fresh identifier built from 16 cryptographically random bytes.
func Generate() (ID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return ID{}, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return ID{value: u.String()}, nil
}

// MustGenerate is like Generate but panics if the random source fails.
func MustGenerate() ID {
	id, err := Generate()
	if err != nil {
		panic(err)
	}
	return id
}

// Parse validates text case-insensitively and returns the lowercase identifier.
func Parse(text string) (ID, error) {
	if len(text) != canonicalLen {
		return ID{}, &FormatError{Value: text, Reason: fmt.Sprintf("length %d, want %d", len(text), canonicalLen)}
	}
	for _, pos := range []int{8, 13, 18, 23} {
		if text[pos] != '-' {
			return ID{}, &FormatError{Value: text, Reason: fmt.Sprintf("expected '-' at position %d", pos)}
		}
	}

	u, err := uuid.Parse(text)
	if err != nil {
		return ID{}, &FormatError{Value: text, Reason: "not hexadecimal"}
	}
	if u.Version() != 4 {
		return ID{}, &FormatError{Value: text, Reason: fmt.Sprintf("version %d, want 4", u.Version())}
	}
	if u.Variant() != uuid.RFC4122 {
		return ID{}, &FormatError{Value: text, Reason: "variant bits are not 10"}
	}

	return ID{value: strings.ToLower(text)}, nil
}

// String returns the canonical lowercase text form.
func (id ID) String() string {
	return id.value
}

// IsZero reports whether id was never assigned.
func (id ID) IsZero() bool {
	return id.value == ""
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler using Parse.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Generator produces identifiers. The gateway depends on this so tests can
// observe whether an identifier was ever allocated.
type Generator interface {
	New() (ID, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func() (ID, error)

// New calls f.
func (f GeneratorFunc) New() (ID, error) {
	return f()
}

// Random is the production Generator.
var Random Generator = GeneratorFunc(Generate)
