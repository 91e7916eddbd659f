package llm

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
)

// Without the exact tokenizer, text is measured in thirds of a token. ASCII
// letters, digits and whitespace cost one third; ASCII punctuation, control
// characters and every byte of a non-ASCII rune cost a whole token. Byte-level
// BPE tokens are at least one byte long, so the estimate never under-counts
// non-ASCII text or punctuation. Runs of ASCII letters and spaces can
// tokenize denser than 3 characters per token; there the real count is at
// most 3x the estimate.
const (
	unitsPerToken = 3
	unitsCheap    = 1
	unitsPerByte  = 3
)

// TokenGuard measures text and cuts it to a token budget.
type TokenGuard struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

// NewTokenGuard loads the named encoding. If it cannot be loaded the guard
// falls back to the estimate and logs a warning.
func NewTokenGuard(encoding string, log zerolog.Logger) *TokenGuard {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", encoding).
			Msg("tokenizer unavailable, using byte-aware estimate")
		return &TokenGuard{encoding: encoding}
	}
	return &TokenGuard{enc: enc, encoding: encoding}
}

// NewEstimatingGuard returns a guard that never loads a tokenizer.
func NewEstimatingGuard() *TokenGuard {
	return &TokenGuard{encoding: "estimate"}
}

// Exact reports whether counts come from the model's tokenizer.
func (g *TokenGuard) Exact() bool {
	return g.enc != nil
}

func (g *TokenGuard) Count(text string) int {
	if text == "" {
		return 0
	}
	if g.enc != nil {
		return len(g.enc.Encode(text, nil, nil))
	}
	return (estimateUnits(text) + unitsPerToken - 1) / unitsPerToken
}

// Truncate returns the longest prefix of text that fits budget tokens,
// cut on a token boundary. Text already within budget is returned as is,
// which makes Truncate idempotent.
func (g *TokenGuard) Truncate(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if g.Count(text) <= budget {
		return text
	}
	if g.enc != nil {
		return g.truncateExact(text, budget)
	}
	return truncateEstimate(text, budget*unitsPerToken)
}

// Exceeds reports whether text is above a watermark.
func (g *TokenGuard) Exceeds(text string, watermark int) bool {
	return watermark > 0 && g.Count(text) > watermark
}

func (g *TokenGuard) truncateExact(text string, budget int) string {
	tokens := g.enc.Encode(text, nil, nil)
	// decoding a prefix can split a multi-byte rune; re-encoding the
	// cleaned prefix may then differ, so shrink until it fits
	for n := budget; n > 0; n-- {
		out := strings.ToValidUTF8(g.enc.Decode(tokens[:n]), "")
		if len(g.enc.Encode(out, nil, nil)) <= budget {
			return out
		}
	}
	return ""
}

func runeUnits(r rune, size int) int {
	if r >= utf8.RuneSelf {
		return size * unitsPerByte
	}
	if unicode.IsSpace(r) || unicode.IsLetter(r) || unicode.IsDigit(r) {
		return unitsCheap
	}
	return unitsPerByte
}

func estimateUnits(text string) int {
	units := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		units += runeUnits(r, size)
		i += size
	}
	return units
}

// truncateEstimate keeps the longest rune prefix within maxUnits, backing off
// to the last whitespace when one falls in the final tenth of the window.
func truncateEstimate(text string, maxUnits int) string {
	floor := maxUnits - maxUnits/10
	cut, lastSpace, units := 0, 0, 0
	for cut < len(text) {
		r, size := utf8.DecodeRuneInString(text[cut:])
		u := runeUnits(r, size)
		if units+u > maxUnits {
			break
		}
		if cut > 0 && units > floor && unicode.IsSpace(r) {
			lastSpace = cut
		}
		units += u
		cut += size
	}
	if cut >= len(text) {
		return text
	}
	if lastSpace > 0 {
		return text[:lastSpace]
	}
	return text[:cut]
}
