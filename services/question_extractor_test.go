package services

import (
	"context"
	"errors"
	"testing"

	"github.com/sahilchouksey/exam-extract-api/model"
	"github.com/sahilchouksey/exam-extract-api/services/digitalocean"
)

// fakeCompletionClient scripts responses per call. Each call consumes the
// next entry from the relevant slice.
type fakeCompletionClient struct {
	structuredResponses []string
	structuredErrors    []error
	jsonResponses       []string
	jsonErrors          []error

	structuredCalls int
	jsonCalls       int
}

func (f *fakeCompletionClient) StructuredCompletion(ctx context.Context, systemPrompt, userPrompt, schemaName, schemaDescription string, schema map[string]interface{}, options ...digitalocean.InferenceOption) (string, error) {
	i := f.structuredCalls
	f.structuredCalls++
	var err error
	if i < len(f.structuredErrors) {
		err = f.structuredErrors[i]
	}
	var resp string
	if i < len(f.structuredResponses) {
		resp = f.structuredResponses[i]
	}
	return resp, err
}

func (f *fakeCompletionClient) JSONCompletion(ctx context.Context, systemPrompt, userPrompt string, options ...digitalocean.InferenceOption) (string, error) {
	i := f.jsonCalls
	f.jsonCalls++
	var err error
	if i < len(f.jsonErrors) {
		err = f.jsonErrors[i]
	}
	var resp string
	if i < len(f.jsonResponses) {
		resp = f.jsonResponses[i]
	}
	return resp, err
}

func TestExtractChunkValidResponse(t *testing.T) {
	client := &fakeCompletionClient{
		structuredResponses: []string{`{"questions": [
			{"question_number": 1, "question_text": "What is 2+2?",
			 "options": {"a": "3", "b": "4", "c": "5", "d": "6"},
			 "difficulty": "easy", "marks": 4},
			{"question_number": 2, "question_text": "Evaluate the integral."}
		]}`},
	}
	extractor := NewQuestionExtractor(client)

	questions, err := extractor.ExtractChunk(context.Background(), "1. What is 2+2?", 0)
	if err != nil {
		t.Fatalf("ExtractChunk failed: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("Expected 2 questions, got %d", len(questions))
	}

	q := questions[0]
	if q.Options["B"] != "4" {
		t.Errorf("Expected option keys uppercased, got %v", q.Options)
	}
	if q.Difficulty != model.DifficultyLow {
		t.Errorf("Expected easy to normalize to %q, got %q", model.DifficultyLow, q.Difficulty)
	}
	if questions[1].Options != nil {
		t.Errorf("Expected nil options for question without any, got %v", questions[1].Options)
	}
	if client.jsonCalls != 0 {
		t.Error("JSON fallback should not run when structured mode succeeds")
	}
}

func TestExtractChunkRecoversInvalidEscapes(t *testing.T) {
	// Model output with an unescaped LaTeX command inside a string.
	client := &fakeCompletionClient{
		structuredResponses: []string{"{\"questions\": [{\"question_number\": 3, \"question_text\": \"Find \\underline{x}\"}]}"},
	}
	extractor := NewQuestionExtractor(client)

	questions, err := extractor.ExtractChunk(context.Background(), "text", 0)
	if err != nil {
		t.Fatalf("ExtractChunk failed: %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("Expected 1 question, got %d", len(questions))
	}
	if questions[0].QuestionNumber != 3 {
		t.Errorf("Expected question 3, got %d", questions[0].QuestionNumber)
	}
}

func TestExtractChunkOptionsArray(t *testing.T) {
	client := &fakeCompletionClient{
		structuredResponses: []string{`{"questions": [
			{"question_number": 1, "question_text": "Pick one", "options": ["red", "green", "blue"]}
		]}`},
	}
	extractor := NewQuestionExtractor(client)

	questions, err := extractor.ExtractChunk(context.Background(), "text", 0)
	if err != nil {
		t.Fatalf("ExtractChunk failed: %v", err)
	}

	opts := questions[0].Options
	if opts["A"] != "red" || opts["B"] != "green" || opts["C"] != "blue" {
		t.Errorf("Expected array options mapped to letters, got %v", opts)
	}
}

func TestExtractChunkFallsBackToJSONMode(t *testing.T) {
	client := &fakeCompletionClient{
		structuredErrors: []error{errors.New("schema mode not supported by model")},
		jsonResponses:    []string{"```json\n{\"questions\": [{\"question_number\": 5, \"question_text\": \"q\"}]}\n```"},
	}
	extractor := NewQuestionExtractor(client)

	questions, err := extractor.ExtractChunk(context.Background(), "text", 0)
	if err != nil {
		t.Fatalf("ExtractChunk failed: %v", err)
	}
	if client.jsonCalls != 1 {
		t.Fatalf("Expected exactly one JSON fallback call, got %d", client.jsonCalls)
	}
	if len(questions) != 1 || questions[0].QuestionNumber != 5 {
		t.Errorf("Unexpected fallback result: %+v", questions)
	}
}

func TestExtractChunkAPIErrorPropagates(t *testing.T) {
	client := &fakeCompletionClient{
		structuredErrors: []error{&digitalocean.APIError{StatusCode: 429, Body: "rate limited"}},
	}
	extractor := NewQuestionExtractor(client)

	_, err := extractor.ExtractChunk(context.Background(), "text", 0)

	var apiErr *digitalocean.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError to propagate, got %v", err)
	}
	if client.jsonCalls != 0 {
		t.Error("API errors must not trigger the JSON fallback")
	}
}

func TestExtractAllRateLimitSkipsChunk(t *testing.T) {
	client := &fakeCompletionClient{
		structuredResponses: []string{
			`{"questions": [{"question_number": 1, "question_text": "q"}]}`,
			"",
			`{"questions": [{"question_number": 3, "question_text": "q"}]}`,
		},
		structuredErrors: []error{
			nil,
			&digitalocean.APIError{StatusCode: 429, Body: "too many requests"},
			nil,
		},
	}
	extractor := NewQuestionExtractor(client)

	var progress []int
	results := extractor.ExtractAll(context.Background(), []string{"a", "b", "c"}, func(completed, total int) {
		progress = append(progress, completed)
	})

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[1].Err == nil || !results[1].RateLimited {
		t.Errorf("Chunk 1 should be marked rate limited: %+v", results[1])
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Error("Surrounding chunks should succeed")
	}
	if len(progress) != 3 || progress[2] != 3 {
		t.Errorf("Expected progress through all chunks, got %v", progress)
	}
}

func TestExtractAllQuotaAborts(t *testing.T) {
	client := &fakeCompletionClient{
		structuredResponses: []string{
			`{"questions": [{"question_number": 1, "question_text": "q"}]}`,
			"",
		},
		structuredErrors: []error{
			nil,
			&digitalocean.APIError{StatusCode: 402, Body: "quota exhausted"},
		},
	}
	extractor := NewQuestionExtractor(client)

	results := extractor.ExtractAll(context.Background(), []string{"a", "b", "c"}, nil)

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[1].Err == nil {
		t.Error("Chunk 1 should carry the quota error")
	}
	if results[2].Err == nil {
		t.Error("Chunk 2 should be marked as not processed")
	}
	if client.structuredCalls != 2 {
		t.Errorf("Extraction must stop calling the API after quota exhaustion, got %d calls", client.structuredCalls)
	}
}

func TestNormalizeDifficulty(t *testing.T) {
	cases := map[string]string{
		"":             model.DifficultyMedium,
		"easy":         model.DifficultyLow,
		"Low":          model.DifficultyLow,
		"medium":       model.DifficultyMedium,
		"moderate":     model.DifficultyMedium,
		"intermediate": model.DifficultyIntermediate,
		"hard":         model.DifficultyAdvanced,
		"Advanced":     model.DifficultyAdvanced,
		"very high":    model.DifficultyAdvanced,
	}
	for in, want := range cases {
		if got := normalizeDifficulty(in); got != want {
			t.Errorf("normalizeDifficulty(%q): expected %q, got %q", in, want, got)
		}
	}
}
