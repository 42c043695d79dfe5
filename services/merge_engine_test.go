package services

import (
	"errors"
	"testing"

	"github.com/sahilchouksey/exam-extract-api/model"
)

func questionData(number int, text string, options map[string]string) ExtractedQuestionData {
	return ExtractedQuestionData{
		QuestionNumber: number,
		QuestionText:   text,
		Options:        options,
		Difficulty:     model.DifficultyMedium,
	}
}

func TestMergeAssignsAnswersOnlyFromKey(t *testing.T) {
	results := []ChunkResult{
		{Index: 0, Questions: []ExtractedQuestionData{
			questionData(1, "first", map[string]string{"A": "x", "B": "y"}),
			questionData(2, "second", nil),
		}},
	}
	key := map[int]string{1: "B"}

	merged := MergeChunkResults(results, key)

	if len(merged.Questions) != 2 {
		t.Fatalf("Expected 2 questions, got %d", len(merged.Questions))
	}
	if merged.Questions[0].CorrectAnswer != "B" {
		t.Errorf("Question 1: expected answer B from key, got %q", merged.Questions[0].CorrectAnswer)
	}
	if merged.Questions[1].CorrectAnswer != "" {
		t.Errorf("Question 2 has no key entry and must stay unanswered, got %q", merged.Questions[1].CorrectAnswer)
	}
	if merged.MissingAnswerCount != 1 || len(merged.MissingAnswers) != 1 || merged.MissingAnswers[0] != 2 {
		t.Errorf("Expected question 2 reported missing, got count=%d list=%v",
			merged.MissingAnswerCount, merged.MissingAnswers)
	}
	if merged.AnswersFound != 1 {
		t.Errorf("Expected AnswersFound 1, got %d", merged.AnswersFound)
	}
}

func TestMergeFirstSeenWins(t *testing.T) {
	// Question 7 appears in both chunks; the chunk-0 version must survive.
	results := []ChunkResult{
		{Index: 1, Questions: []ExtractedQuestionData{questionData(7, "from chunk one", nil)}},
		{Index: 0, Questions: []ExtractedQuestionData{questionData(7, "from chunk zero", nil)}},
	}

	merged := MergeChunkResults(results, nil)

	if len(merged.Questions) != 1 {
		t.Fatalf("Expected 1 question after dedupe, got %d", len(merged.Questions))
	}
	if merged.Questions[0].QuestionText != "from chunk zero" {
		t.Errorf("Expected chunk-0 text to win, got %q", merged.Questions[0].QuestionText)
	}
}

func TestMergeClassification(t *testing.T) {
	results := []ChunkResult{
		{Index: 0, Questions: []ExtractedQuestionData{
			questionData(1, "mcq", map[string]string{"A": "x"}),
			questionData(2, "numeric", nil),
			questionData(3, "looks like mcq but numeric answer", map[string]string{"A": "x"}),
		}},
	}
	key := map[int]string{1: "B", 2: "8788", 3: "42"}

	merged := MergeChunkResults(results, key)

	if merged.Questions[0].QuestionType != model.QuestionTypeMCQ {
		t.Errorf("Single letter answer should classify as MCQ, got %q", merged.Questions[0].QuestionType)
	}
	if merged.Questions[1].QuestionType != model.QuestionTypeInteger {
		t.Errorf("Numeric answer should classify as integer, got %q", merged.Questions[1].QuestionType)
	}
	if merged.Questions[2].QuestionType != model.QuestionTypeInteger {
		t.Errorf("Key value overrides option presence, got %q", merged.Questions[2].QuestionType)
	}
}

func TestMergeSkipsInvalidQuestionNumbers(t *testing.T) {
	results := []ChunkResult{
		{Index: 0, Questions: []ExtractedQuestionData{
			questionData(0, "zero", nil),
			questionData(-3, "negative", nil),
			questionData(4, "valid", nil),
		}},
	}

	merged := MergeChunkResults(results, nil)

	if len(merged.Questions) != 1 || merged.Questions[0].QuestionNumber != 4 {
		t.Errorf("Expected only question 4 to survive, got %+v", merged.Questions)
	}
}

func TestMergeMissingAnswersCap(t *testing.T) {
	var questions []ExtractedQuestionData
	for i := 1; i <= 30; i++ {
		questions = append(questions, questionData(i, "q", nil))
	}
	results := []ChunkResult{{Index: 0, Questions: questions}}

	merged := MergeChunkResults(results, nil)

	if merged.MissingAnswerCount != 30 {
		t.Errorf("Expected full missing count 30, got %d", merged.MissingAnswerCount)
	}
	if len(merged.MissingAnswers) != missingAnswersReportCap {
		t.Errorf("Expected reported list capped at %d, got %d", missingAnswersReportCap, len(merged.MissingAnswers))
	}
	if merged.MissingAnswers[0] != 1 || merged.MissingAnswers[19] != 20 {
		t.Errorf("Expected the lowest question numbers reported, got %v", merged.MissingAnswers)
	}
}

func TestMergePartialEnvelope(t *testing.T) {
	results := []ChunkResult{
		{Index: 0, Questions: []ExtractedQuestionData{questionData(1, "q", nil)}},
		{Index: 1, Err: errors.New("rate limited"), RateLimited: true},
		{Index: 2, Questions: []ExtractedQuestionData{questionData(2, "q", nil)}},
	}

	merged := MergeChunkResults(results, nil)

	if !merged.Success {
		t.Error("Run with questions must be successful")
	}
	if !merged.Partial {
		t.Error("Run with chunk errors must be partial")
	}
	if merged.ChunksProcessed != 2 || merged.ChunksTotal != 3 {
		t.Errorf("Expected 2/3 chunks processed, got %d/%d", merged.ChunksProcessed, merged.ChunksTotal)
	}
	if len(merged.Errors) != 1 || merged.Errors[0].ChunkIndex != 1 || !merged.Errors[0].RateLimited {
		t.Errorf("Unexpected errors: %+v", merged.Errors)
	}
}

func TestMergeNoQuestions(t *testing.T) {
	results := []ChunkResult{
		{Index: 0, Err: errors.New("boom")},
		{Index: 1, Err: errors.New("boom")},
	}

	merged := MergeChunkResults(results, map[int]string{1: "A"})

	if merged.Success {
		t.Error("Run without questions must not be successful")
	}
	if merged.Partial {
		t.Error("Failed run must not be partial")
	}
	if len(merged.Questions) != 0 {
		t.Errorf("Expected no questions, got %d", len(merged.Questions))
	}
}

func TestMergeQuestionsSortedByNumber(t *testing.T) {
	results := []ChunkResult{
		{Index: 1, Questions: []ExtractedQuestionData{questionData(12, "q", nil), questionData(3, "q", nil)}},
		{Index: 0, Questions: []ExtractedQuestionData{questionData(8, "q", nil)}},
	}

	merged := MergeChunkResults(results, nil)

	numbers := []int{merged.Questions[0].QuestionNumber, merged.Questions[1].QuestionNumber, merged.Questions[2].QuestionNumber}
	if numbers[0] != 3 || numbers[1] != 8 || numbers[2] != 12 {
		t.Errorf("Expected ascending question numbers, got %v", numbers)
	}
}
