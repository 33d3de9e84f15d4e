package claims

import (
	"context"
	"time"
)

// Validator checks one requirement against a payload. Claim is nil for
// custom validators that only inspect the payload and never refetch.
type Validator struct {
	ID    string
	Claim Claim

	// ShouldRefetch reports whether Claim's value must be reloaded before
	// Validate runs. Nil means never.
	ShouldRefetch func(ctx context.Context, payload Payload) bool

	Validate func(ctx context.Context, payload Payload) Result
}

// Result is the outcome of one Validate call.
type Result struct {
	IsValid bool
	Reason  map[string]any
}

// Valid is the passing Result.
var Valid = Result{IsValid: true}

// Invalid builds a failing Result.
func Invalid(reason map[string]any) Result {
	return Result{Reason: reason}
}

// ValidatorOption configures a built-in validator.
type ValidatorOption func(*validatorConfig)

type validatorConfig struct {
	maxAge    time.Duration
	maxAgeSet bool
	id        string
}

// WithMaxAge makes the validator treat values older than d as expired and
// refetch them. Zero disables the check.
func WithMaxAge(d time.Duration) ValidatorOption {
	return func(c *validatorConfig) {
		c.maxAge = d
		c.maxAgeSet = true
	}
}

// WithID overrides the validator id, which defaults to the claim key.
func WithID(id string) ValidatorOption {
	return func(c *validatorConfig) { c.id = id }
}

func applyValidatorOptions(opts []ValidatorOption) validatorConfig {
	var c validatorConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
