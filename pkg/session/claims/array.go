package claims

import (
	"context"
	"slices"
)

// PrimitiveArrayClaim holds a list of comparable values. Multi-value
// validators use set semantics: order and duplicates do not matter.
type PrimitiveArrayClaim[T comparable] struct {
	base[[]T]
}

// NewPrimitiveArrayClaim returns an array claim stored under key.
func NewPrimitiveArrayClaim[T comparable](key string, fetch FetchFunc[[]T], opts ...ClaimOption) *PrimitiveArrayClaim[T] {
	return &PrimitiveArrayClaim[T]{base: newBase(key, fetch, opts)}
}

// Includes requires v to be in the stored list.
func (c *PrimitiveArrayClaim[T]) Includes(v T, opts ...ValidatorOption) Validator {
	return c.validator("expectedToInclude", v, opts, func(vals []T) bool {
		return slices.Contains(vals, v)
	})
}

// Excludes requires v to be absent from the stored list.
func (c *PrimitiveArrayClaim[T]) Excludes(v T, opts ...ValidatorOption) Validator {
	return c.validator("expectedToNotInclude", v, opts, func(vals []T) bool {
		return !slices.Contains(vals, v)
	})
}

// IncludesAll requires every element of vs to be in the stored list.
func (c *PrimitiveArrayClaim[T]) IncludesAll(vs []T, opts ...ValidatorOption) Validator {
	return c.validator("expectedToInclude", vs, opts, func(vals []T) bool {
		set := toSet(vals)
		for _, v := range vs {
			if _, ok := set[v]; !ok {
				return false
			}
		}
		return true
	})
}

// IncludesAny requires at least one element of vs to be in the stored list.
func (c *PrimitiveArrayClaim[T]) IncludesAny(vs []T, opts ...ValidatorOption) Validator {
	return c.validator("expectedToIncludeAtLeastOneOf", vs, opts, func(vals []T) bool {
		set := toSet(vals)
		for _, v := range vs {
			if _, ok := set[v]; ok {
				return true
			}
		}
		return false
	})
}

// ExcludesAll requires no element of vs to be in the stored list.
func (c *PrimitiveArrayClaim[T]) ExcludesAll(vs []T, opts ...ValidatorOption) Validator {
	return c.validator("expectedToNotInclude", vs, opts, func(vals []T) bool {
		set := toSet(vals)
		for _, v := range vs {
			if _, ok := set[v]; ok {
				return false
			}
		}
		return true
	})
}

func (c *PrimitiveArrayClaim[T]) validator(reasonKey string, expected any, opts []ValidatorOption, check func([]T) bool) Validator {
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
					"message":     "value does not exist",
					reasonKey:     expected,
					"actualValue": nil,
				})
			}
			if r, expired := c.expired(p, maxAge); expired {
				return r
			}
			if vals, ok := convert[[]T](raw); !ok || !check(vals) {
				return Invalid(map[string]any{
					"message":     "wrong value",
					reasonKey:     expected,
					"actualValue": raw,
				})
			}
			return Valid
		},
	}
}

func toSet[T comparable](vals []T) map[T]struct{} {
	set := make(map[T]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}
