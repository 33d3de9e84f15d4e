package claims

import (
	"context"
	"time"
)

// PrimitiveClaim holds a single comparable value.
type PrimitiveClaim[T comparable] struct {
	base[T]
}

// NewPrimitiveClaim returns a claim stored under key and loaded by fetch.
func NewPrimitiveClaim[T comparable](key string, fetch FetchFunc[T], opts ...ClaimOption) *PrimitiveClaim[T] {
	return &PrimitiveClaim[T]{base: newBase(key, fetch, opts)}
}

// HasValue requires the stored value to equal expected.
func (c *PrimitiveClaim[T]) HasValue(expected T, opts ...ValidatorOption) Validator {
	o := applyValidatorOptions(opts)
	maxAge := c.maxAge(o)

	return Validator{
		ID:            c.id(o),
		Claim:         c,
		ShouldRefetch: c.shouldRefetch(maxAge),
		Validate: func(_ context.Context, p Payload) Result {
			raw, ok := c.GetValueFromPayload(p)
			if !ok {
				return Invalid(map[string]any{
					"message":       "value does not exist",
					"expectedValue": expected,
					"actualValue":   nil,
				})
			}
			if r, expired := c.expired(p, maxAge); expired {
				return r
			}
			if v, ok := convert[T](raw); !ok || v != expected {
				return Invalid(map[string]any{
					"message":       "wrong value",
					"expectedValue": expected,
					"actualValue":   raw,
				})
			}
			return Valid
		},
	}
}

func (b base[T]) shouldRefetch(maxAge time.Duration) func(context.Context, Payload) bool {
	return func(_ context.Context, p Payload) bool {
		if _, ok := b.GetValueFromPayload(p); !ok {
			return true
		}
		return b.stale(p, maxAge)
	}
}

func (b base[T]) expired(p Payload, maxAge time.Duration) (Result, bool) {
	if !b.stale(p, maxAge) {
		return Valid, false
	}
	return Invalid(map[string]any{
		"message":         "expired",
		"ageInSeconds":    b.age(p),
		"maxAgeInSeconds": int64(maxAge / time.Second),
	}), true
}
