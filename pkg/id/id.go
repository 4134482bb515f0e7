// Package id generates prefixed, K-sortable identifiers ("sbr_01h2xcejqtf2nbrexx3vqjhp41").
package id

import (
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in an identifier.
type Prefix string

const (
	PrefixSubscriber Prefix = "sbr"
	PrefixAttempt    Prefix = "att"
)

var ErrPrefixMismatch = errors.New("id: prefix mismatch")

// New generates an identifier with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// Validate checks that s is a well-formed identifier carrying the expected prefix.
func Validate(s string, expected Prefix) error {
	if s == "" {
		return fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("id: parse %q: %w", s, err)
	}
	if Prefix(tid.Prefix()) != expected {
		return fmt.Errorf("%w: expected %q, got %q", ErrPrefixMismatch, expected, tid.Prefix())
	}
	return nil
}

// NewSubscriberID generates a new subscriber identifier.
func NewSubscriberID() string { return New(PrefixSubscriber) }
