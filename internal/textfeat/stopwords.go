package textfeat

// stopWords are filler words dropped by reports that look for shared phrasing.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"i", "me", "my", "we", "you", "your", "he", "she",
		"it", "they", "them", "the", "a", "an", "and", "or",
		"but", "in", "on", "at", "to", "for", "of", "with",
		"is", "am", "are", "was", "were", "be", "been",
		"have", "has", "had", "do", "does", "did", "will",
		"just", "not", "no", "so", "if", "that", "this",
		"what", "when", "how", "all", "up", "out", "about",
		"like", "got", "get", "go", "can", "would", "could",
		"should", "there", "here", "from", "its", "than",
		"into", "over", "some", "then", "too", "very",
		"dont", "im", "ive", "thats", "yeah", "oh",
	} {
		stopWords[w] = struct{}{}
	}
}

// IsStopWord reports whether a lowercased token is filler
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

// RemoveStopWords returns tokens with filler words removed
func RemoveStopWords(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !IsStopWord(t) {
			out = append(out, t)
		}
	}
	return out
}
