package coherence

import (
	"strings"
	"unicode"
)

// normText is a lowercased, whitespace-collapsed view of a string that
// remembers where every normalised rune came from, so a match found in the
// normal form can be mapped back to the verbatim original slice.
type normText struct {
	runes []rune
	// starts[i] and ends[i] are byte offsets into the original string for
	// normalised rune i.
	starts []int
	ends   []int
}

func normalize(s string) normText {
	var nt normText
	pendingSpace := false
	spaceStart := -1

	for i, r := range s {
		size := len(string(r))
		if unicode.IsSpace(r) {
			if len(nt.runes) > 0 && !pendingSpace {
				pendingSpace = true
				spaceStart = i
			}
			continue
		}
		if pendingSpace {
			nt.runes = append(nt.runes, ' ')
			nt.starts = append(nt.starts, spaceStart)
			nt.ends = append(nt.ends, i)
			pendingSpace = false
		}
		nt.runes = append(nt.runes, unicode.ToLower(r))
		nt.starts = append(nt.starts, i)
		nt.ends = append(nt.ends, i+size)
	}
	return nt
}

func (nt normText) String() string {
	return string(nt.runes)
}

// find locates needle's normal form inside nt and returns the verbatim slice
// of the original string it covers. ok is false when there is no match.
func (nt normText) find(original, needle string) (string, bool) {
	target := normalize(needle)
	if len(target.runes) == 0 {
		return "", false
	}
	pos := runeIndex(nt.runes, target.runes)
	if pos < 0 {
		return "", false
	}
	start := nt.starts[pos]
	end := nt.ends[pos+len(target.runes)-1]
	return original[start:end], true
}

func (nt normText) contains(needle string) bool {
	target := normalize(needle)
	if len(target.runes) == 0 {
		return false
	}
	return runeIndex(nt.runes, target.runes) >= 0
}

func runeIndex(haystack, needle []rune) int {
	if len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// significantWords returns the normalised words of s that carry meaning:
// anything that is not a stopword and is either three-plus characters or
// contains a digit (so "45" in "line 45" counts).
func significantWords(s string) []string {
	words := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if w == "" {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		if len(w) < 3 && !containsDigit(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"the", "a", "an", "in", "on", "at", "to", "of", "for", "and", "or",
		"is", "are", "was", "were", "with", "your", "you", "it", "this",
		"that", "be", "been", "have", "has", "had", "will", "would", "into",
		"from", "by", "as", "if", "then", "so", "do", "does", "did", "not",
		"no", "can", "could", "should", "may", "might", "we", "they", "he",
		"she", "them", "their", "our", "my", "me", "but", "about", "just",
		"now", "more", "than", "also", "there", "here", "what", "when",
		"where", "how", "why", "which", "who", "its", "all", "any", "some",
		"one", "up", "down", "out", "over", "under", "very", "too", "while",
		"being", "i",
	} {
		stopwords[w] = struct{}{}
	}
}
