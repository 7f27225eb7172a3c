// Package schema defines the canonical data model shared across the connector.
package schema

import (
	"strings"

	"github.com/quantfabric/paradise/errs"
)

// Pair is the canonical trading pair identifier in BASE-QUOTE form.
type Pair string

// CombinePair builds the canonical identifier from base and quote assets.
func CombinePair(base, quote string) Pair {
	return Pair(strings.ToUpper(strings.TrimSpace(base)) + "-" + strings.ToUpper(strings.TrimSpace(quote)))
}

// Split returns the base and quote legs of the pair.
func (p Pair) Split() (base, quote string, err error) {
	parts := strings.Split(string(p), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errs.New("schema/pair", errs.CodeInvalid, errs.WithMessage("pair requires BASE-QUOTE form: "+string(p)))
	}
	return parts[0], parts[1], nil
}

// Base returns the base asset, or the empty string for a malformed pair.
func (p Pair) Base() string {
	base, _, err := p.Split()
	if err != nil {
		return ""
	}
	return base
}

// Quote returns the quote asset, or the empty string for a malformed pair.
func (p Pair) Quote() string {
	_, quote, err := p.Split()
	if err != nil {
		return ""
	}
	return quote
}

// Concatenated returns the BASEQUOTE concatenation used by the exchange for
// the primary contract of a pair.
func (p Pair) Concatenated() string {
	return strings.ReplaceAll(string(p), "-", "")
}

// Validate checks the canonical BASE-QUOTE shape.
func (p Pair) Validate() error {
	_, _, err := p.Split()
	return err
}
