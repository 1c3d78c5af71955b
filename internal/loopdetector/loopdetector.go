// Package loopdetector detects repetitive text patterns in model output.
// It keeps a rolling buffer of sentences and flags n-gram patterns that
// repeat beyond a threshold, which usually means the generation degenerated.
package loopdetector

import (
	"regexp"
	"strings"
	"sync"
)

const (
	maxSentences  = 100   // Maximum number of sentences to track
	maxTotalChars = 16384 // Maximum total characters to track
	loopThreshold = 10    // Number of repetitions to trigger loop detection
	maxNGramSize  = 10    // Maximum n-gram size to check
)

// LoopDetector detects repetitive text patterns in model responses
type LoopDetector struct {
	mu            sync.Mutex
	sentences     []string
	totalChars    int
	patternCounts map[string]int
	sentenceRegex *regexp.Regexp
}

// NewLoopDetector creates a new loop detector
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{
		sentences:     make([]string, 0, maxSentences),
		patternCounts: make(map[string]int),
		sentenceRegex: regexp.MustCompile(`[.!?]+(?:\s+|["'\)]*\s+|["'\)]*$)`),
	}
}

func (ld *LoopDetector) splitSentences(text string) []string {
	if text == "" {
		return nil
	}

	parts := ld.sentenceRegex.Split(text, -1)

	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		sentence := strings.TrimSpace(part)
		if sentence == "" {
			continue
		}
		sentence = strings.Join(strings.Fields(sentence), " ")
		sentences = append(sentences, sentence)
	}

	return sentences
}

func (ld *LoopDetector) addSentence(sentence string) {
	ld.sentences = append(ld.sentences, sentence)
	ld.totalChars += len(sentence)

	for (len(ld.sentences) > maxSentences || ld.totalChars > maxTotalChars) && len(ld.sentences) > 0 {
		removed := ld.sentences[0]
		ld.sentences = ld.sentences[1:]
		ld.totalChars -= len(removed)
	}
}

func (ld *LoopDetector) generateNGram(startIdx, n int) string {
	if startIdx+n > len(ld.sentences) {
		return ""
	}
	return strings.Join(ld.sentences[startIdx:startIdx+n], " | ")
}

func (ld *LoopDetector) checkForLoops() (bool, string, int) {
	numSentences := len(ld.sentences)
	if numSentences < 2 {
		return false, "", 0
	}

	ld.patternCounts = make(map[string]int)

	maxN := maxNGramSize
	if numSentences < maxN {
		maxN = numSentences
	}

	for n := 1; n <= maxN; n++ {
		for i := 0; i <= numSentences-n; i++ {
			pattern := ld.generateNGram(i, n)
			if pattern == "" {
				continue
			}

			ld.patternCounts[pattern]++

			if ld.patternCounts[pattern] > loopThreshold {
				return true, pattern, ld.patternCounts[pattern]
			}
		}
	}

	return false, "", 0
}

// AddText adds new text to the detector and checks for loops.
// Returns (isLoop, pattern, count).
func (ld *LoopDetector) AddText(text string) (bool, string, int) {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	newSentences := ld.splitSentences(text)
	if len(newSentences) == 0 {
		return false, "", 0
	}

	for _, sentence := range newSentences {
		ld.addSentence(sentence)
	}

	return ld.checkForLoops()
}

// Reset clears the detector state
func (ld *LoopDetector) Reset() {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	ld.sentences = make([]string, 0, maxSentences)
	ld.totalChars = 0
	ld.patternCounts = make(map[string]int)
}

// Stats returns current buffer statistics for debugging
func (ld *LoopDetector) Stats() (sentenceCount int, totalChars int, patternCount int) {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	return len(ld.sentences), ld.totalChars, len(ld.patternCounts)
}
