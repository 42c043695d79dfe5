package services

import (
	"log"
	"regexp"
)

// questionStartPattern matches the start of a numbered question at the
// beginning of a line: "12.", "12)", "Q12." and similar.
var questionStartPattern = regexp.MustCompile(`(?m)^[ \t]*(?:Q\.?[ \t]*)?\d{1,3}[ \t]*[.)]`)

// SplitAtQuestionBoundaries splits text into chunks of at most maxChunkSize
// bytes, preferring to cut at a question start inside the last 30% of each
// window so questions are not severed mid-statement. When no boundary falls
// in the window the cut is made at the hard limit.
//
// Concatenating the returned chunks reproduces the input exactly.
func SplitAtQuestionBoundaries(text string, maxChunkSize int) []string {
	if maxChunkSize <= 0 || len(text) <= maxChunkSize {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for len(remaining) > maxChunkSize {
		window := remaining[:maxChunkSize]
		cut := maxChunkSize

		// Prefer the last question start in the 70-100% span of the window.
		lowerBound := (maxChunkSize * 7) / 10
		if idx := lastQuestionStart(window); idx >= lowerBound && idx > 0 {
			cut = idx
		}

		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
	}

	if len(remaining) > 0 {
		chunks = append(chunks, remaining)
	}

	log.Printf("TextChunker: split %d chars into %d chunks (max %d)", len(text), len(chunks), maxChunkSize)
	return chunks
}

// lastQuestionStart returns the byte offset of the last question-start match
// in window, or -1 when there is none.
func lastQuestionStart(window string) int {
	matches := questionStartPattern.FindAllStringIndex(window, -1)
	if len(matches) == 0 {
		return -1
	}
	return matches[len(matches)-1][0]
}
