package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/sahilchouksey/exam-extract-api/model"
	"github.com/sahilchouksey/exam-extract-api/services/digitalocean"
	"github.com/sahilchouksey/exam-extract-api/utils"
)

// completionClient is the slice of the inference client the extractor needs.
// Satisfied by *digitalocean.InferenceClient.
type completionClient interface {
	StructuredCompletion(ctx context.Context, systemPrompt, userPrompt, schemaName, schemaDescription string, schema map[string]interface{}, options ...digitalocean.InferenceOption) (string, error)
	JSONCompletion(ctx context.Context, systemPrompt, userPrompt string, options ...digitalocean.InferenceOption) (string, error)
}

// ExtractedQuestionData is one question as returned by the model. Answers are
// never taken from the model; CorrectAnswer is assigned later from the
// answer key during merging.
type ExtractedQuestionData struct {
	QuestionNumber int             `json:"question_number"`
	QuestionText   string          `json:"question_text"`
	RawOptions     json.RawMessage `json:"options"`
	Difficulty     string          `json:"difficulty"`
	Marks          int             `json:"marks"`
	Explanation    string          `json:"explanation"`

	// Options is RawOptions normalized to letter-keyed form
	Options map[string]string `json:"-"`
}

// QuestionExtractor pulls structured questions out of OCR text chunks using
// the inference API, with layered recovery for malformed model output.
type QuestionExtractor struct {
	client completionClient
}

func NewQuestionExtractor(client completionClient) *QuestionExtractor {
	return &QuestionExtractor{client: client}
}

const questionExtractionSystemPrompt = `You are an expert at extracting exam questions from OCR text of scanned question papers.

Extract EVERY numbered question you find, preserving the original question numbers.
For multiple-choice questions include all options keyed by letter (A, B, C, D).
Preserve mathematical notation exactly as it appears in the text.

DO NOT determine, guess, or include correct answers. Answers come from a
separate answer key and are never part of your output.

Respond with a JSON object: {"questions": [...]}`

// questionExtractionSchema is the JSON schema sent with structured requests.
var questionExtractionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"questions": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"question_number": map[string]interface{}{"type": "integer"},
					"question_text":   map[string]interface{}{"type": "string"},
					"options": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"A": map[string]interface{}{"type": "string"},
							"B": map[string]interface{}{"type": "string"},
							"C": map[string]interface{}{"type": "string"},
							"D": map[string]interface{}{"type": "string"},
						},
					},
					"difficulty":  map[string]interface{}{"type": "string"},
					"marks":       map[string]interface{}{"type": "integer"},
					"explanation": map[string]interface{}{"type": "string"},
				},
				"required": []string{"question_number", "question_text"},
			},
		},
	},
	"required": []string{"questions"},
}

// ExtractChunk extracts questions from one text chunk. Structured schema mode
// is tried first; on non-API failures it falls back to free-form JSON mode.
// API errors (rate limit, quota) propagate to the caller for policy handling.
func (e *QuestionExtractor) ExtractChunk(ctx context.Context, chunk string, chunkIndex int) ([]ExtractedQuestionData, error) {
	userPrompt := fmt.Sprintf("Extract all exam questions from this text:\n\n%s", chunk)

	response, err := e.client.StructuredCompletion(
		ctx,
		questionExtractionSystemPrompt,
		userPrompt,
		"exam_questions",
		"Questions extracted from a scanned exam paper",
		questionExtractionSchema,
		digitalocean.WithInferenceTemperature(0.1),
		digitalocean.WithInferenceMaxTokens(8192),
	)
	if err != nil {
		var apiErr *digitalocean.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		log.Printf("QuestionExtractor: chunk %d structured mode failed (%v), retrying in JSON mode", chunkIndex, err)
		response, err = e.client.JSONCompletion(
			ctx,
			questionExtractionSystemPrompt,
			userPrompt,
			digitalocean.WithInferenceTemperature(0.1),
			digitalocean.WithInferenceMaxTokens(8192),
		)
		if err != nil {
			return nil, err
		}
	}

	questions, err := parseQuestionResponse(response)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", chunkIndex, err)
	}

	for i := range questions {
		questions[i].Options = normalizeOptions(questions[i].RawOptions)
		questions[i].Difficulty = normalizeDifficulty(questions[i].Difficulty)
	}

	log.Printf("QuestionExtractor: chunk %d yielded %d questions", chunkIndex, len(questions))
	return questions, nil
}

// ExtractAll runs the extractor over every chunk sequentially. Rate-limited
// chunks (429) are skipped and recorded; quota exhaustion (402) aborts the
// remaining chunks since retrying cannot succeed.
func (e *QuestionExtractor) ExtractAll(ctx context.Context, chunks []string, onProgress func(completed, total int)) []ChunkResult {
	results := make([]ChunkResult, 0, len(chunks))

	for i, chunk := range chunks {
		questions, err := e.ExtractChunk(ctx, chunk, i)

		result := ChunkResult{Index: i, Questions: questions, Err: err}
		if err != nil {
			var apiErr *digitalocean.APIError
			if errors.As(err, &apiErr) {
				if apiErr.IsRateLimited() {
					log.Printf("QuestionExtractor: chunk %d rate limited, skipping", i)
					result.RateLimited = true
				} else if apiErr.IsQuotaExhausted() {
					log.Printf("QuestionExtractor: quota exhausted at chunk %d, aborting remaining %d chunks", i, len(chunks)-i-1)
					results = append(results, result)
					for j := i + 1; j < len(chunks); j++ {
						results = append(results, ChunkResult{
							Index: j,
							Err:   fmt.Errorf("chunk %d not processed: %w", j, err),
						})
					}
					if onProgress != nil {
						onProgress(len(chunks), len(chunks))
					}
					return results
				}
			}
		}

		results = append(results, result)
		if onProgress != nil {
			onProgress(i+1, len(chunks))
		}
	}

	return results
}

type questionsPayload struct {
	Questions []ExtractedQuestionData `json:"questions"`
}

// parseQuestionResponse is the recovery cascade over raw model output:
// direct unmarshal, extraction with escape sanitizing, then bracket-balance
// location of the questions array inside an otherwise broken object.
func parseQuestionResponse(response string) ([]ExtractedQuestionData, error) {
	var payload questionsPayload
	if err := json.Unmarshal([]byte(response), &payload); err == nil {
		return payload.Questions, nil
	}

	if cleaned, err := utils.ExtractJSON(response); err == nil {
		if err := json.Unmarshal([]byte(cleaned), &payload); err == nil {
			return payload.Questions, nil
		}
		var bare []ExtractedQuestionData
		if err := json.Unmarshal([]byte(cleaned), &bare); err == nil {
			return bare, nil
		}
	}

	arr, err := utils.ExtractKeyedArray(response, "questions")
	if err != nil {
		return nil, fmt.Errorf("unparseable extraction response: %w", err)
	}
	var questions []ExtractedQuestionData
	if err := json.Unmarshal([]byte(arr), &questions); err != nil {
		return nil, fmt.Errorf("located questions array does not unmarshal: %w", err)
	}
	return questions, nil
}

// normalizeOptions accepts the shapes models actually emit for options:
// a letter-keyed object, a bare array, or nothing.
func normalizeOptions(raw json.RawMessage) map[string]string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil {
		normalized := make(map[string]string, len(asMap))
		for k, v := range asMap {
			key := strings.ToUpper(strings.TrimSpace(k))
			if len(key) == 1 && key[0] >= 'A' && key[0] <= 'E' {
				normalized[key] = v
			}
		}
		if len(normalized) > 0 {
			return normalized
		}
		return nil
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		normalized := make(map[string]string, len(asList))
		for i, v := range asList {
			if i >= 5 {
				break
			}
			normalized[string(rune('A'+i))] = v
		}
		if len(normalized) > 0 {
			return normalized
		}
	}

	return nil
}

// normalizeDifficulty maps free-form difficulty strings onto the stored enum.
// "advanced" is checked before "intermediate" and substring order matters:
// "intermediate" must not fall through to the medium bucket by accident.
func normalizeDifficulty(difficulty string) string {
	d := strings.ToLower(strings.TrimSpace(difficulty))
	switch {
	case d == "":
		return model.DifficultyMedium
	case strings.Contains(d, "adv") || strings.Contains(d, "hard") || strings.Contains(d, "high"):
		return model.DifficultyAdvanced
	case strings.Contains(d, "inter"):
		return model.DifficultyIntermediate
	case strings.Contains(d, "low") || strings.Contains(d, "easy"):
		return model.DifficultyLow
	default:
		return model.DifficultyMedium
	}
}
