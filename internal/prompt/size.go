// Package prompt measures text that is injected into an agent prompt.
package prompt

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Size describes a rendered prompt block.
type Size struct {
	Chars          int `json:"chars"`
	TokensEstimate int `json:"tokens_estimate"`
}

// Measure returns the rune count and a word-based token estimate of text.
func Measure(text string) Size {
	return Size{Chars: CountChars(text), TokensEstimate: EstimateTokens(text)}
}

// CountChars returns the character count as runes (not bytes).
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// EstimateTokens estimates token count as 1.3 tokens per word, rounded up.
func EstimateTokens(text string) int {
	words := strings.Fields(text)
	return int(math.Ceil(float64(len(words)) * 1.3))
}
