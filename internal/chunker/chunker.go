// Package chunker splits normalized document text into overlapping,
// token-aligned windows suitable for embedding and retrieval.
package chunker

// Options controls the sliding-window parameters.
//
// MinTokens is declarative policy carried alongside the window sizes: it is
// not enforced here, so only the final truncated window may fall below it.
type Options struct {
	MinTokens int
	MaxTokens int
	Overlap   int
}

// DefaultOptions are the ingestion policy defaults.
func DefaultOptions() Options {
	return Options{MinTokens: 500, MaxTokens: 1200, Overlap: 120}
}

// Chunk is a token-aligned slice of the input text. Offset and Length are
// measured in tokens of the stream produced by Tokenize.
type Chunk struct {
	Offset int
	Length int
	Text   string
}

// Split cuts text into windows of at most opts.MaxTokens tokens advancing by
// MaxTokens-Overlap each step. The final window may be shorter; no padding is
// added. Deterministic: identical input and options produce identical output.
func Split(text string, opts Options) []Chunk {
	if opts.MaxTokens <= 0 {
		opts = DefaultOptions()
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.MaxTokens {
		opts.Overlap = opts.MaxTokens - 1
	}

	toks := Tokenize(text)
	if len(toks) == 0 {
		return nil
	}

	step := opts.MaxTokens - opts.Overlap
	var out []Chunk
	for i := 0; i < len(toks); i += step {
		end := i + opts.MaxTokens
		if end > len(toks) {
			end = len(toks)
		}
		out = append(out, Chunk{
			Offset: i,
			Length: end - i,
			Text:   Detokenize(toks[i:end]),
		})
		if end == len(toks) {
			break
		}
	}
	return out
}
