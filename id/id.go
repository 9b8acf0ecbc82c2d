// Package id generates TypeID identifiers for lineup entities.
//
// Generated identifiers have the form "prefix_suffix": the prefix names the
// entity type and the base32 UUIDv7 suffix makes them K-sortable. Job ids may
// also be supplied by the caller, in which case they are opaque strings and
// none of the parsing helpers apply.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a generated id.
type Prefix string

// Prefix constants for generated ids.
const (
	PrefixJob        Prefix = "job"
	PrefixSubscriber Prefix = "sub"
)

// ID is a parsed generated identifier.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new unique id with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// NewJobID generates a new job id.
func NewJobID() string { return New(PrefixJob) }

// NewSubscriberID generates a new stream subscriber id.
func NewSubscriberID() string { return New(PrefixSubscriber) }

// Parse parses a generated id such as "job_01h2xcejqtf2nbrexx3vqjhp41".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks that its prefix matches expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// Prefix returns the entity type of the id.
func (i ID) Prefix() Prefix { return Prefix(i.inner.Prefix()) }

// String returns the "prefix_suffix" form, or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}
