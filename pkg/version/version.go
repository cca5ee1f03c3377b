// Package version implements content-addressed resource versions and the
// conditional-operation result model. A version is the SHA-256 digest of a
// resource's canonical JSON form; at the HTTP boundary it travels as a weak
// ETag (`W/"<digest>"`).
package version

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/scimd/pkg/canonical"
)

// ErrMalformedETag is returned when an If-Match / ETag header value cannot be
// parsed into a version.
var ErrMalformedETag = errors.New("malformed etag")

// Version is an opaque content-derived resource version. The zero value is
// the absent version.
type Version struct {
	raw string
}

// FromRaw wraps an already computed raw digest string.
func FromRaw(raw string) Version {
	return Version{raw: raw}
}

// Compute derives the version of a resource document from its canonical
// JSON serialization.
func Compute(doc any) (Version, error) {
	h, err := canonical.Hash(doc)
	if err != nil {
		return Version{}, fmt.Errorf("version: %w", err)
	}
	return Version{raw: h}, nil
}

// Raw returns the digest form used in storage and comparisons.
func (v Version) Raw() string { return v.raw }

// HTTP returns the weak ETag wire form, W/"<raw>".
func (v Version) HTTP() string { return `W/"` + v.raw + `"` }

// IsZero reports whether no version is present.
func (v Version) IsZero() bool { return v.raw == "" }

// Equal is string equality on the raw form.
func (v Version) Equal(o Version) bool { return v.raw == o.raw }

func (v Version) String() string { return v.raw }

// ParseETag parses an ETag header value. Both the weak (W/"x") and strong
// ("x") forms are recognized; a bare unquoted token is accepted as a
// compatibility fallback.
func ParseETag(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty value", ErrMalformedETag)
	}
	if strings.HasPrefix(s, "W/") || strings.HasPrefix(s, "w/") {
		s = s[2:]
		if !strings.HasPrefix(s, `"`) {
			return Version{}, fmt.Errorf("%w: weak prefix without quoted tag", ErrMalformedETag)
		}
	}
	if strings.HasPrefix(s, `"`) {
		if len(s) < 2 || !strings.HasSuffix(s, `"`) {
			return Version{}, fmt.Errorf("%w: unbalanced quotes", ErrMalformedETag)
		}
		s = s[1 : len(s)-1]
	}
	if s == "" || strings.Contains(s, `"`) {
		return Version{}, fmt.Errorf("%w: %q", ErrMalformedETag, s)
	}
	return Version{raw: s}, nil
}

// Conflict describes a failed version precondition.
type Conflict struct {
	Expected Version
	Current  Version
	Message  string
}

// NewConflict builds a conflict record with a stable human message.
func NewConflict(expected, current Version) *Conflict {
	return &Conflict{
		Expected: expected,
		Current:  current,
		Message: fmt.Sprintf("version mismatch: expected %s, current %s",
			expected.Raw(), current.Raw()),
	}
}

func (c *Conflict) Error() string { return c.Message }

// Outcome enumerates the three results of a version-gated operation.
type Outcome int

const (
	// OutcomeSuccess means the precondition held and the mutation applied.
	OutcomeSuccess Outcome = iota
	// OutcomeVersionMismatch means the stored version differed from the
	// expected one; the mutation was not applied.
	OutcomeVersionMismatch
	// OutcomeNotFound means the target resource does not exist.
	OutcomeNotFound
)

// ConditionalResult is the sum type carried out of every conditional
// mutation: Success(T) | VersionMismatch(Conflict) | NotFound.
type ConditionalResult[T any] struct {
	Outcome  Outcome
	Value    T
	Conflict *Conflict
}

// Success wraps a successful result value.
func Success[T any](v T) ConditionalResult[T] {
	return ConditionalResult[T]{Outcome: OutcomeSuccess, Value: v}
}

// Mismatch wraps a version conflict.
func Mismatch[T any](c *Conflict) ConditionalResult[T] {
	return ConditionalResult[T]{Outcome: OutcomeVersionMismatch, Conflict: c}
}

// NotFound marks an absent target resource.
func NotFound[T any]() ConditionalResult[T] {
	return ConditionalResult[T]{Outcome: OutcomeNotFound}
}
