package domain

import (
	"fmt"
	"strings"
)

// TokenKind identifies which ledger token an order or auction trades.
type TokenKind string

const (
	TokenEnergy TokenKind = "energy"
	TokenCarbon TokenKind = "carbon"
)

// ParseTokenKind accepts "energy"/"ent" and "carbon"/"cct", case-insensitively.
func ParseTokenKind(s string) (TokenKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "energy", "ent":
		return TokenEnergy, nil
	case "carbon", "cct", "cc":
		return TokenCarbon, nil
	default:
		return "", fmt.Errorf("%w: unknown token kind %q", ErrValidation, s)
	}
}
