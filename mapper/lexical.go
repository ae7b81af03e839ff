package mapper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

var lexicalStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "from": {}, "as": {},
	"is": {}, "was": {}, "are": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {}, "will": {},
	"would": {}, "could": {}, "should": {}, "may": {}, "might": {}, "can": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "it": {}, "its": {}, "they": {},
	"them": {}, "their": {}, "such": {}, "into": {}, "via": {}, "use": {}, "used": {},
}

// LexicalBackend builds feature-hashed term-frequency vectors. It needs no
// model files, so it serves offline runs and tests.
type LexicalBackend struct {
	dims int
}

// NewLexicalBackend returns a backend producing vectors of the given size.
func NewLexicalBackend(dims int) *LexicalBackend {
	if dims <= 0 {
		dims = 384
	}
	return &LexicalBackend{dims: dims}
}

// Encode vectorizes each text independently.
func (b *LexicalBackend) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = b.vectorize(t)
	}
	return out, nil
}

// ModelID identifies the hashing space.
func (b *LexicalBackend) ModelID() string {
	return fmt.Sprintf("lexical-%d", b.dims)
}

// Close is a no-op.
func (b *LexicalBackend) Close() error { return nil }

func (b *LexicalBackend) vectorize(text string) []float32 {
	counts := make(map[int]float64)
	for _, tok := range lexicalTokens(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum % uint32(b.dims))
		sign := 1.0
		if sum&(1<<31) != 0 {
			sign = -1.0
		}
		counts[idx] += sign
	}
	vec := make([]float32, b.dims)
	var norm float64
	for idx, c := range counts {
		// sublinear term frequency keeps long descriptions from dominating
		w := math.Copysign(1+math.Log(math.Abs(c)), c)
		if c == 0 {
			w = 0
		}
		vec[idx] = float32(w)
		norm += w * w
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) * inv)
		}
	}
	return vec
}

func lexicalTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := lexicalStopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
