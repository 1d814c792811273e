// Package environment resolves a resource's environment-variable producers
// into a flat configuration mapping.
package environment

import (
	"context"
	"fmt"
)

type valueKind uint8

const (
	kindUnset valueKind = iota
	kindLiteral
	kindDeferred
)

// Resolver produces a value asynchronously, typically once endpoints of
// another resource have been allocated.
type Resolver func(ctx context.Context) (string, error)

// Value is either a literal string or a deferred resolver. The zero Value is
// neither and fails materialization with UnsupportedProducerKindError.
type Value struct {
	kind    valueKind
	literal string
	resolve Resolver
}

// Literal wraps a plain string.
func Literal(s string) Value {
	return Value{kind: kindLiteral, literal: s}
}

// Deferred wraps a resolver evaluated at materialization time.
func Deferred(r Resolver) Value {
	return Value{kind: kindDeferred, resolve: r}
}

// IsDeferred reports whether the value needs asynchronous resolution.
func (v Value) IsDeferred() bool { return v.kind == kindDeferred }

// Resolve returns the concrete string for the value.
func (v Value) Resolve(ctx context.Context, name string) (string, error) {
	switch v.kind {
	case kindLiteral:
		return v.literal, nil
	case kindDeferred:
		if v.resolve == nil {
			return "", UnsupportedProducerKindError{Name: name}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		s, err := v.resolve(ctx)
		if err != nil {
			return "", fmt.Errorf("resolve environment variable %s: %w", name, err)
		}
		return s, nil
	default:
		return "", UnsupportedProducerKindError{Name: name}
	}
}

// UnsupportedProducerKindError means an environment variable was neither a
// literal nor a deferred value.
type UnsupportedProducerKindError struct {
	Name string
}

func (e UnsupportedProducerKindError) Error() string {
	return fmt.Sprintf("environment variable %q has an unsupported producer kind", e.Name)
}
