package services

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplitSmallTextSingleChunk(t *testing.T) {
	text := "1. What is 2+2?\n2. What is 3+3?\n"

	chunks := SplitAtQuestionBoundaries(text, 1000)

	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != text {
		t.Error("Single chunk must equal the input")
	}
}

func TestSplitReconstructsInputExactly(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 60; i++ {
		fmt.Fprintf(&b, "%d. Question number %d with some body text to pad the line out.\n", i, i)
	}
	text := b.String()

	chunks := SplitAtQuestionBoundaries(text, 300)

	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}
	if strings.Join(chunks, "") != text {
		t.Error("Concatenated chunks must reproduce the input byte for byte")
	}
	for i, chunk := range chunks {
		if len(chunk) > 300 {
			t.Errorf("Chunk %d exceeds max size: %d bytes", i, len(chunk))
		}
	}
}

func TestSplitPrefersQuestionBoundary(t *testing.T) {
	// A question start sits at 81% of the window; the cut should land there
	// rather than at the hard limit.
	text := strings.Repeat("x", 80) + "\n2. " + strings.Repeat("y", 100)

	chunks := SplitAtQuestionBoundaries(text, 100)

	if len(chunks) < 2 {
		t.Fatalf("Expected at least 2 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[1], "2. ") {
		t.Errorf("Second chunk should start at the question boundary, got %q", truncate(chunks[1], 10))
	}
	if strings.Join(chunks, "") != text {
		t.Error("Concatenated chunks must reproduce the input")
	}
}

func TestSplitHardCutWithoutBoundary(t *testing.T) {
	text := strings.Repeat("z", 250)

	chunks := SplitAtQuestionBoundaries(text, 100)

	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 100 || len(chunks[1]) != 100 || len(chunks[2]) != 50 {
		t.Errorf("Expected hard cuts at 100/100/50, got %d/%d/%d",
			len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if strings.Join(chunks, "") != text {
		t.Error("Concatenated chunks must reproduce the input")
	}
}

func TestSplitIgnoresEarlyBoundary(t *testing.T) {
	// The only question start is in the first 70% of the window, so it must
	// not be used as a cut point.
	text := "1. early question\n" + strings.Repeat("w", 200)

	chunks := SplitAtQuestionBoundaries(text, 100)

	if len(chunks[0]) != 100 {
		t.Errorf("Expected hard cut at 100, got chunk of %d bytes", len(chunks[0]))
	}
	if strings.Join(chunks, "") != text {
		t.Error("Concatenated chunks must reproduce the input")
	}
}

func TestSplitQPrefixedBoundary(t *testing.T) {
	text := strings.Repeat("a", 85) + "\nQ12. " + strings.Repeat("b", 60)

	chunks := SplitAtQuestionBoundaries(text, 100)

	if len(chunks) < 2 {
		t.Fatalf("Expected at least 2 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[1], "Q12.") {
		t.Errorf("Second chunk should start at the Q-prefixed boundary, got %q", truncate(chunks[1], 10))
	}
}
