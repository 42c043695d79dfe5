package services

import (
	"log"
	"sort"

	"gorm.io/datatypes"

	"github.com/sahilchouksey/exam-extract-api/model"
)

// missingAnswersReportCap bounds the missing-answers list in the result
// envelope; the full count is still reported.
const missingAnswersReportCap = 20

// ChunkResult is the outcome of extracting one chunk.
type ChunkResult struct {
	Index       int
	Questions   []ExtractedQuestionData
	Err         error
	RateLimited bool
}

// ChunkError describes a failed chunk in the result envelope.
type ChunkError struct {
	ChunkIndex  int    `json:"chunk_index"`
	Message     string `json:"message"`
	RateLimited bool   `json:"rate_limited,omitempty"`
}

// ExtractionResult is the envelope of a full extraction run. Success means at
// least one question was produced; Partial flags a successful run that still
// lost some chunks to errors.
type ExtractionResult struct {
	Success         bool                 `json:"success"`
	Partial         bool                 `json:"partial"`
	ChunksTotal     int                  `json:"chunks_total"`
	ChunksProcessed int                  `json:"chunks_processed"`
	Questions       []model.ExamQuestion `json:"questions"`
	Errors          []ChunkError         `json:"errors,omitempty"`

	AnswersFound       int   `json:"answers_found"`
	MissingAnswers     []int `json:"missing_answers,omitempty"`
	MissingAnswerCount int   `json:"missing_answer_count"`
}

// MergeChunkResults reconciles per-chunk extractions with the answer key.
//
// Duplicate question numbers across chunks keep the first occurrence seen.
// Answers come exclusively from the key: a question whose number has no key
// entry stays unanswered and is reported as missing. The answer value also
// classifies the question: a single letter A-D means multiple choice,
// anything else is an integer answer.
func MergeChunkResults(results []ChunkResult, answerKey map[int]string) *ExtractionResult {
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	merged := &ExtractionResult{
		ChunksTotal:  len(results),
		AnswersFound: len(answerKey),
	}

	seen := make(map[int]bool)
	var missing []int

	for _, r := range results {
		if r.Err != nil {
			merged.Errors = append(merged.Errors, ChunkError{
				ChunkIndex:  r.Index,
				Message:     r.Err.Error(),
				RateLimited: r.RateLimited,
			})
			continue
		}
		merged.ChunksProcessed++

		for _, q := range r.Questions {
			if q.QuestionNumber < 1 || seen[q.QuestionNumber] {
				continue
			}
			seen[q.QuestionNumber] = true

			question := model.ExamQuestion{
				QuestionNumber: q.QuestionNumber,
				QuestionText:   q.QuestionText,
				Options:        optionsToJSONMap(q.Options),
				Difficulty:     q.Difficulty,
				Marks:          q.Marks,
				Explanation:    q.Explanation,
			}

			if answer, ok := answerKey[q.QuestionNumber]; ok {
				question.CorrectAnswer = answer
				question.QuestionType = classifyAnswer(answer)
			} else {
				missing = append(missing, q.QuestionNumber)
				if len(q.Options) > 0 {
					question.QuestionType = model.QuestionTypeMCQ
				} else {
					question.QuestionType = model.QuestionTypeInteger
				}
			}

			merged.Questions = append(merged.Questions, question)
		}
	}

	sort.Slice(merged.Questions, func(i, j int) bool {
		return merged.Questions[i].QuestionNumber < merged.Questions[j].QuestionNumber
	})

	sort.Ints(missing)
	merged.MissingAnswerCount = len(missing)
	if len(missing) > missingAnswersReportCap {
		missing = missing[:missingAnswersReportCap]
	}
	merged.MissingAnswers = missing

	merged.Success = len(merged.Questions) >= 1
	merged.Partial = merged.Success && len(merged.Errors) > 0

	log.Printf("MergeEngine: %d questions from %d/%d chunks, %d missing answers, success=%t partial=%t",
		len(merged.Questions), merged.ChunksProcessed, merged.ChunksTotal,
		merged.MissingAnswerCount, merged.Success, merged.Partial)

	return merged
}

// classifyAnswer decides the question type from the key value: a single
// option letter means MCQ, everything else is a numeric answer.
func classifyAnswer(answer string) model.ExamQuestionType {
	if len(answer) == 1 && answer[0] >= 'A' && answer[0] <= 'D' {
		return model.QuestionTypeMCQ
	}
	return model.QuestionTypeInteger
}

func optionsToJSONMap(options map[string]string) datatypes.JSONMap {
	if len(options) == 0 {
		return nil
	}
	m := make(datatypes.JSONMap, len(options))
	for k, v := range options {
		m[k] = v
	}
	return m
}
