package chunk

import "strings"

// charsPerToken is the rough code-text ratio; four characters per token.
const charsPerToken = 4

// EstimateTokens approximates the token count of text. The character ratio
// underestimates prose and identifier-dense code, so the word count acts as
// a floor.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byChars := len(text) / charsPerToken
	words := len(strings.Fields(text))
	if words > byChars {
		return words
	}
	if byChars == 0 {
		return 1
	}
	return byChars
}

// lineTokens precomputes per-line token estimates so window splitting stays
// linear over the file.
func lineTokens(lines []string) []int {
	out := make([]int, len(lines))
	for i, line := range lines {
		out[i] = EstimateTokens(line)
	}
	return out
}

func sumTokens(tokens []int, start, end int) int {
	total := 0
	for i := start; i <= end && i < len(tokens); i++ {
		total += tokens[i]
	}
	return total
}
