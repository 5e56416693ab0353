// Package tokens estimates the billable units consumed by one generation.
package tokens

import (
	"strings"
	"unicode/utf8"
)

// Count returns the billing units for one generation: the estimate of the
// prompt material plus the estimate of the response text. It is a pure
// function of its inputs; the same strings always yield the same integer.
func Count(promptMaterial, responseText string) int {
	return estimate(promptMaterial) + estimate(responseText)
}

// estimate approximates the provider's token count: roughly one token per
// four characters, floored at the whitespace word count so short dense
// texts are not undercounted.
func estimate(s string) int {
	if s == "" {
		return 0
	}
	n := (utf8.RuneCountInString(s) + 3) / 4
	if words := len(strings.Fields(s)); words > n {
		n = words
	}
	return n
}
