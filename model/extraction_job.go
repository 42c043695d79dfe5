package model

import "time"

// ExtractionJobStatus represents the status of an extraction job
type ExtractionJobStatus string

const (
	JobStatusPending    ExtractionJobStatus = "pending"
	JobStatusProcessing ExtractionJobStatus = "processing"
	JobStatusCompleted  ExtractionJobStatus = "completed"
	JobStatusFailed     ExtractionJobStatus = "failed"
)

// ExtractionJob represents the state of a question extraction run stored in
// Redis. One run covers answer-key parsing, chunking, per-chunk LLM
// extraction and the final merge for a single document pair.
type ExtractionJob struct {
	JobID          string              `json:"job_id"`
	DocumentPairID uint                `json:"document_pair_id"`
	Status         ExtractionJobStatus `json:"status"`
	Progress       int                 `json:"progress"`      // 0-100
	CurrentPhase   string              `json:"current_phase"` // "answer_key", "chunking", "extraction", "merge", "save"
	Message        string              `json:"message"`

	// Chunk tracking
	TotalChunks     int `json:"total_chunks,omitempty"`
	CompletedChunks int `json:"completed_chunks,omitempty"`
	FailedChunks    int `json:"failed_chunks,omitempty"`

	// Partial-result reporting
	Partial        bool     `json:"partial,omitempty"`
	QuestionsFound int      `json:"questions_found,omitempty"`
	AnswersFound   int      `json:"answers_found,omitempty"`
	MissingAnswers []int    `json:"missing_answers,omitempty"`
	Errors         []string `json:"errors,omitempty"`

	// Error tracking
	Error string `json:"error,omitempty"`

	// Timestamps
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Redis key patterns for extraction jobs
const (
	// RedisKeyJobState stores the full job state as JSON
	// Usage: fmt.Sprintf(RedisKeyJobState, jobID)
	RedisKeyJobState = "extract:job:%s"

	// RedisKeyActiveJob tracks the active extraction job ID for a document pair
	// Usage: fmt.Sprintf(RedisKeyActiveJob, documentPairID)
	RedisKeyActiveJob = "extract:active:%d"

	// RedisKeyConversionLock guards against concurrent conversion starts
	// Usage: fmt.Sprintf(RedisKeyConversionLock, documentPairID)
	RedisKeyConversionLock = "convert:lock:%d"
)
