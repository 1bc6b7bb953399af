package race

import (
	"math/rand"
	"strings"
)

// DefaultWordCount is the number of words in a generated race text when no
// other count is configured.
const DefaultWordCount = 50

var commonWords = []string{
	"the", "be", "to", "of", "and", "a", "in", "that", "have", "i",
	"it", "for", "not", "on", "with", "he", "as", "you", "do", "at",
	"this", "but", "his", "by", "from", "they", "we", "say", "her", "she",
	"or", "an", "will", "my", "one", "all", "would", "there", "their", "what",
	"so", "up", "out", "if", "about", "who", "get", "which", "go", "me",
	"when", "make", "can", "like", "time", "no", "just", "him", "know", "take",
	"people", "into", "year", "your", "good", "some", "could", "them",
}

// GenerateWords returns a race text of count words drawn uniformly from
// the common-word list, space-separated.
func GenerateWords(count int) string {
	if count < 1 {
		count = DefaultWordCount
	}

	words := make([]string, count)
	for i := range words {
		words[i] = commonWords[rand.Intn(len(commonWords))]
	}

	return strings.Join(words, " ")
}
