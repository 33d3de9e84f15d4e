package claims

// BooleanClaim is a primitive claim with IsTrue/IsFalse shorthands.
type BooleanClaim struct {
	*PrimitiveClaim[bool]
}

// NewBooleanClaim returns a boolean claim stored under key.
func NewBooleanClaim(key string, fetch FetchFunc[bool], opts ...ClaimOption) *BooleanClaim {
	return &BooleanClaim{PrimitiveClaim: NewPrimitiveClaim(key, fetch, opts...)}
}

func (c *BooleanClaim) IsTrue(opts ...ValidatorOption) Validator {
	return c.HasValue(true, opts...)
}

func (c *BooleanClaim) IsFalse(opts ...ValidatorOption) Validator {
	return c.HasValue(false, opts...)
}
