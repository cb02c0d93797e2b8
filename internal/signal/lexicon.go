package signal

import (
	"strings"
	"unicode"
)

// Word weights for distress scoring. Negative weights lower the score.
var lexicon = map[string]float64{
	// exhaustion
	"exhausted":   2,
	"burnout":     2,
	"burned":      2,
	"burnt":       2,
	"drained":     2,
	"overwhelmed": 2,
	"hopeless":    2,
	"can't":       1,
	"cant":        1,
	"quit":        1.5,
	// strain
	"tired":      1,
	"sleepy":     1,
	"stressed":   1,
	"anxious":    1,
	"frustrated": 1,
	"stuck":      1,
	"behind":     1,
	"worried":    1,
	"annoyed":    1,
	"struggling": 1,
	"hate":       1,
	"ugh":        1,
	"sad":        1,
	"headache":   1,
	"confused":   0.5,
	"bored":      0.5,
	"hard":       0.5,
	// relief
	"good":       -1,
	"great":      -1,
	"fine":       -0.5,
	"ok":         -0.5,
	"okay":       -0.5,
	"fresh":      -1,
	"focused":    -1,
	"happy":      -1,
	"energized":  -1,
	"calm":       -1,
	"relaxed":    -1,
	"productive": -1,
	"rested":     -1,
}

var negators = map[string]bool{
	"not":     true,
	"no":      true,
	"never":   true,
	"don't":   true,
	"dont":    true,
	"isn't":   true,
	"isnt":    true,
	"wasn't":  true,
	"aren't":  true,
	"without": true,
}

// negationReach is how many following tokens a negator affects.
const negationReach = 2

// ScoreText maps free text to a distress value in [1,5]. Neutral text
// scores 1. Negation flips the sign of the next words at half strength,
// exclamation marks and shouted words amplify a distressed message.
func ScoreText(text string) float64 {
	tokens := tokenize(text)
	score := 0.0
	negate := 0
	shouted := 0

	for _, tok := range tokens {
		lower := strings.ToLower(tok.word)
		if negators[lower] {
			negate = negationReach
			continue
		}
		if w, ok := lexicon[lower]; ok {
			if negate > 0 {
				w = -w / 2
			}
			score += w
			if w > 0 && tok.caps {
				shouted++
			}
		}
		if negate > 0 {
			negate--
		}
	}

	if score > 0 {
		score += minf(0.5*float64(shouted), 1)
		score += minf(0.25*float64(strings.Count(text, "!")), 1)
	}

	return clamp(1+score, 1, 5)
}

type token struct {
	word string
	caps bool
}

func tokenize(text string) []token {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	out := make([]token, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f == "" {
			continue
		}
		out = append(out, token{word: f, caps: len(f) >= 3 && strings.ToUpper(f) == f})
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
