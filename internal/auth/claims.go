package auth

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ExtractClaimString extracts a non-empty string claim.
func ExtractClaimString(claims map[string]any, claimField string) (string, error) {
	rawValue, ok := claims[claimField]
	if !ok {
		return "", fmt.Errorf("claim field %s not found", claimField)
	}

	value, ok := rawValue.(string)
	if !ok {
		return "", fmt.Errorf("claim field %s is not a string", claimField)
	}

	if value == "" {
		return "", fmt.Errorf("claim field %s is empty", claimField)
	}

	return value, nil
}

// UsernameFromEmail derives a username from the local part of an address.
func UsernameFromEmail(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return email
	}
	return local
}

// DecodeClaims decodes a claim map into out using `mapstructure` tags.
func DecodeClaims(claims map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("create claims decoder: %w", err)
	}
	if err := decoder.Decode(claims); err != nil {
		return fmt.Errorf("decode claims: %w", err)
	}
	return nil
}
