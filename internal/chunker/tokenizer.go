package chunker

import "strings"

// Tokenize splits text into a reversible token stream. A token is either a
// maximal run of non-whitespace characters or a maximal run of whitespace;
// joining the tokens back together reproduces the input byte-for-byte, so
// chunk windows can be decoded without losing formatting.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	var toks []string
	start := 0
	inSpace := isSpace(rune(text[0]))
	for i, r := range text {
		if isSpace(r) != inSpace {
			toks = append(toks, text[start:i])
			start = i
			inSpace = !inSpace
		}
	}
	toks = append(toks, text[start:])
	return toks
}

// Detokenize joins a token slice back into text. Inverse of Tokenize.
func Detokenize(toks []string) string {
	return strings.Join(toks, "")
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
