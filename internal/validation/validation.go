// Package validation provides centralized input validation for feedvault.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/feedvault/feedvault/internal/errors"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for entity names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// DefaultNameRules returns the default rules for entity names.
func DefaultNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    false,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// SymbolRules returns rules for ticker symbols. Dots and hyphens appear in
// real listings (BRK.B, BF-B), underscores do not.
func SymbolRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    32,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  false,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '/' || r == '\\' {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

// =============================================================================
// Domain Names
// =============================================================================

// ValidateSymbol validates a ticker symbol. Symbols are stored uppercase;
// lowercase input is rejected rather than silently folded. Failures wrap
// errors.ErrInvalidSymbol.
func ValidateSymbol(symbol string) error {
	if err := ValidateName(symbol, SymbolRules()); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidSymbol, err)
	}
	for i, r := range symbol {
		if unicode.IsLetter(r) && !unicode.IsUpper(r) {
			return fmt.Errorf("%w: lowercase character '%c' at position %d", errors.ErrInvalidSymbol, r, i)
		}
	}
	return nil
}

// ValidateMarket validates a market name (e.g. "us_equities"). Failures wrap
// errors.ErrInvalidMarket.
func ValidateMarket(market string) error {
	if err := validateLowerName(market); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidMarket, err)
	}
	return nil
}

// ValidateSource validates a data source name (e.g. "yahoo"). Failures wrap
// errors.ErrInvalidSource.
func ValidateSource(source string) error {
	if err := validateLowerName(source); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidSource, err)
	}
	return nil
}

func validateLowerName(name string) error {
	if err := ValidateName(name, DefaultNameRules()); err != nil {
		return err
	}
	for i, r := range name {
		if unicode.IsLetter(r) && !unicode.IsLower(r) {
			return fmt.Errorf("uppercase character '%c' at position %d", r, i)
		}
	}
	return nil
}

// =============================================================================
// Scope References
// =============================================================================

// ScopeRef represents a parsed market/source reference.
type ScopeRef struct {
	Market string
	Source string
}

// ParseScopeRef parses a "market/source" reference string.
func ParseScopeRef(ref string) (*ScopeRef, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty scope reference")
	}

	parts := strings.SplitN(ref, "/", 2)

	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid scope reference format: expected 'market/source', got '%s'", ref)
	}

	market := strings.TrimSpace(parts[0])
	source := strings.TrimSpace(parts[1])

	if market == "" {
		return nil, fmt.Errorf("invalid scope reference: empty market in '%s'", ref)
	}
	if source == "" {
		return nil, fmt.Errorf("invalid scope reference: empty source in '%s'", ref)
	}

	if err := ValidateMarket(market); err != nil {
		return nil, fmt.Errorf("invalid market in scope reference: %w", err)
	}
	if err := ValidateSource(source); err != nil {
		return nil, fmt.Errorf("invalid source in scope reference: %w", err)
	}

	return &ScopeRef{
		Market: market,
		Source: source,
	}, nil
}

// String returns the string representation of the scope reference.
func (r *ScopeRef) String() string {
	return r.Market + "/" + r.Source
}
