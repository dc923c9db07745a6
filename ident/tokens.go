package ident

import "unicode/utf8"

// charsPerToken is the calibration factor of the token estimator,
// approximating common LLM tokenizers at ~4 characters per token.
const charsPerToken = 4

// EstimateTokens returns a conservative token estimate for s: the rune
// count divided by four, rounded up, and at least 1 for non-empty input.
// The function is pure and deterministic; equal inputs always yield equal
// outputs, and the estimate is monotone in the input length.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	runes := utf8.RuneCountInString(s)
	est := (runes + charsPerToken - 1) / charsPerToken
	if est < 1 {
		est = 1
	}
	return est
}
