package claims

import (
	"context"
	"fmt"
	"reflect"

	"github.com/aussiebroadwan/sessionkit/pkg/slogx"
)

// InvalidClaim is one failed validator.
type InvalidClaim struct {
	ID     string         `json:"id"`
	Reason map[string]any `json:"reason,omitempty"`
}

// ValidationResult is the outcome of ValidateClaims.
type ValidationResult struct {
	InvalidClaims []InvalidClaim

	// PayloadUpdate is the patched payload when any refetch changed it,
	// nil otherwise. Callers must persist it.
	PayloadUpdate Payload
}

// ValidateClaims refetches every claim whose validator asks for it, then
// runs every validator against the patched payload and collects all
// failures. payload itself is never modified.
func ValidateClaims(ctx context.Context, userID, recipeUserID, tenantID string, payload Payload, validators []Validator) (ValidationResult, error) {
	log := slogx.FromContext(ctx)
	if payload == nil {
		payload = Payload{}
	}
	patched := payload.Clone()

	for _, v := range validators {
		if v.Claim == nil || v.ShouldRefetch == nil || !v.ShouldRefetch(ctx, patched) {
			continue
		}
		log.Debug("claims: refetching", "validator", v.ID, "claim", v.Claim.Key())

		value, ok, err := v.Claim.FetchValue(ctx, userID, recipeUserID, tenantID, patched)
		if err != nil {
			return ValidationResult{}, fmt.Errorf("claims: fetch %q: %w", v.Claim.Key(), err)
		}
		if ok {
			patched = v.Claim.AddToPayload(patched, value)
		}
	}

	var result ValidationResult
	for _, v := range validators {
		if v.Validate == nil {
			continue
		}
		r := v.Validate(ctx, patched)
		if !r.IsValid {
			log.Debug("claims: validator failed", "validator", v.ID, "reason", r.Reason)
			result.InvalidClaims = append(result.InvalidClaims, InvalidClaim{ID: v.ID, Reason: r.Reason})
		}
	}

	if !reflect.DeepEqual(map[string]any(payload), map[string]any(patched)) {
		result.PayloadUpdate = patched
	}
	return result, nil
}
