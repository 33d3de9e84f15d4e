package jwtx

import "fmt"

// InvalidStructureError is returned when a payload lacks a field its
// version requires, or the field has the wrong JSON type.
type InvalidStructureError struct {
	Version Version
	Field   string
}

func (e *InvalidStructureError) Error() string {
	return fmt.Sprintf(
		"jwtx: access token does not contain all the information (version %d, field %q)",
		e.Version, e.Field,
	)
}

func (e *InvalidStructureError) Is(target error) bool { return target == ErrInvalidStructure }

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindPresent
)

type requiredField struct {
	name string
	kind fieldKind
}

// structureTable is a frozen compatibility table: what each layout version
// requires. antiCsrfToken and parentRefreshTokenHash1 are nullable in every
// version and so never appear here.
var structureTable = map[Version][]requiredField{
	V2: {
		{ClaimSessionHandle, kindString},
		{legacyUserID, kindString},
		{ClaimRefreshTokenHash1, kindString},
		{legacyUserData, kindPresent},
		{legacyExpiryTime, kindNumber},
		{legacyTimeCreated, kindNumber},
	},
	V3: {
		{ClaimSub, kindString},
		{ClaimExp, kindNumber},
		{ClaimIat, kindNumber},
		{ClaimSessionHandle, kindString},
		{ClaimRefreshTokenHash1, kindString},
	},
	V4: {
		{ClaimSub, kindString},
		{ClaimExp, kindNumber},
		{ClaimIat, kindNumber},
		{ClaimSessionHandle, kindString},
		{ClaimRefreshTokenHash1, kindString},
		{ClaimTenantID, kindString},
	},
	V5: {
		{ClaimSub, kindString},
		{ClaimExp, kindNumber},
		{ClaimIat, kindNumber},
		{ClaimSessionHandle, kindString},
		{ClaimRefreshTokenHash1, kindString},
		{ClaimTenantID, kindString},
		{ClaimRecipeUserID, kindString},
	},
}

// ValidateStructure checks payload against the fields version requires.
// Versions newer than LatestVersion are held to the latest rules.
func ValidateStructure(payload Payload, version Version) error {
	if version > LatestVersion {
		version = LatestVersion
	}
	fields, ok := structureTable[version]
	if !ok {
		return &InvalidStructureError{Version: version, Field: "version"}
	}

	for _, f := range fields {
		var valid bool
		switch f.kind {
		case kindString:
			_, valid = payload.String(f.name)
		case kindNumber:
			_, valid = payload.Number(f.name)
		case kindPresent:
			_, valid = payload[f.name]
		}
		if !valid {
			return &InvalidStructureError{Version: version, Field: f.name}
		}
	}
	return nil
}
