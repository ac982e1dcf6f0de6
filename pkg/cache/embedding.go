package cache

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dimensions is the length of every query vector.
const Dimensions = 256

const (
	wordWeight    = 1.0
	trigramWeight = 0.5
)

// Embedder turns query text into a fixed-size unit vector by signed
// feature hashing of word tokens and character trigrams.
type Embedder struct {
	memo *lru.Cache[string, []float32]
}

func NewEmbedder(memoSize int) *Embedder {
	e := &Embedder{}
	if memoSize > 0 {
		// only fails for a non-positive size
		e.memo, _ = lru.New[string, []float32](memoSize)
	}
	return e
}

// Embed returns the vector for text. The returned slice is shared with the
// memo and must not be modified.
func (e *Embedder) Embed(text string) []float32 {
	norm := normalize(text)
	if e.memo != nil {
		if v, ok := e.memo.Get(norm); ok {
			return v
		}
	}
	v := embed(norm)
	if e.memo != nil {
		e.memo.Add(norm, v)
	}
	return v
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func embed(text string) []float32 {
	acc := make([]float64, Dimensions)
	for _, tok := range tokens(text) {
		addFeature(acc, "w:"+tok, wordWeight)
	}
	padded := " " + text + " "
	runes := []rune(padded)
	for i := 0; i+3 <= len(runes); i++ {
		addFeature(acc, "c:"+string(runes[i:i+3]), trigramWeight)
	}

	var sum float64
	for _, x := range acc {
		sum += x * x
	}
	out := make([]float32, Dimensions)
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range acc {
		out[i] = float32(x * inv)
	}
	return out
}

func addFeature(acc []float64, feature string, weight float64) {
	h := fnv.New32a()
	h.Write([]byte(feature))
	sum := h.Sum32()
	idx := sum % Dimensions
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	acc[idx] += weight
}

// tokens splits text into identifier/number runs and single punctuation
// characters, so "age>25" and "age > 25" tokenize alike.
func tokens(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.':
			cur.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			out = append(out, string(r))
		}
	}
	flush()
	return out
}

// Cosine is the cosine similarity of two vectors. For unit vectors it is
// their dot product.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
