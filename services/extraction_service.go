package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sahilchouksey/exam-extract-api/model"
	"github.com/sahilchouksey/exam-extract-api/utils/cache"
)

const (
	// defaultExtractionChunkSize keeps chunks comfortably inside the model's
	// context window with room for the prompt and response.
	defaultExtractionChunkSize = 30000

	jobStateTTL  = 24 * time.Hour
	activeJobTTL = 2 * time.Hour
)

var (
	// ErrExtractionInProgress is returned when the pair already has a live run
	ErrExtractionInProgress = errors.New("extraction already in progress for this document pair")
	// ErrPairNotReady is returned when conversion has not produced text yet
	ErrPairNotReady = errors.New("document pair has no converted text; run conversion first")
)

// ExtractionService runs the full question extraction pipeline for a
// converted document pair: answer key, chunking, per-chunk LLM extraction,
// merge and persistence. Job state lives in Redis keyed by a UUID.
type ExtractionService struct {
	db        *gorm.DB
	extractor *QuestionExtractor
	cache     *cache.RedisCache
	chunkSize int
}

func NewExtractionService(db *gorm.DB, extractor *QuestionExtractor, redisCache *cache.RedisCache) *ExtractionService {
	return &ExtractionService{
		db:        db,
		extractor: extractor,
		cache:     redisCache,
		chunkSize: defaultExtractionChunkSize,
	}
}

// TriggerExtractionAsync starts a background extraction run and returns its
// initial job state. Only one run per pair may be active at a time.
func (s *ExtractionService) TriggerExtractionAsync(ctx context.Context, pairID uint) (*model.ExtractionJob, error) {
	var pair model.DocumentPair
	if err := s.db.First(&pair, pairID).Error; err != nil {
		return nil, fmt.Errorf("document pair %d not found: %w", pairID, err)
	}
	if pair.QuestionsText == "" {
		return nil, ErrPairNotReady
	}

	jobID := uuid.New().String()

	activeKey := fmt.Sprintf(model.RedisKeyActiveJob, pairID)
	acquired, err := s.cache.SetNX(ctx, activeKey, jobID, activeJobTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to register extraction job: %w", err)
	}
	if !acquired {
		existing, _ := s.cache.Get(ctx, activeKey)
		return nil, fmt.Errorf("%w (job %s)", ErrExtractionInProgress, existing)
	}

	now := time.Now()
	job := &model.ExtractionJob{
		JobID:          jobID,
		DocumentPairID: pairID,
		Status:         model.JobStatusPending,
		CurrentPhase:   "answer_key",
		Message:        "extraction queued",
		StartedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.saveJobState(ctx, job); err != nil {
		s.cache.Delete(ctx, activeKey)
		return nil, err
	}

	go s.runExtraction(context.Background(), job, &pair)

	log.Printf("ExtractionService: started job %s for pair %d", jobID, pairID)
	return job, nil
}

// GetJobState returns the current state of an extraction job.
func (s *ExtractionService) GetJobState(ctx context.Context, jobID string) (*model.ExtractionJob, error) {
	var job model.ExtractionJob
	key := fmt.Sprintf(model.RedisKeyJobState, jobID)
	if err := s.cache.GetJSON(ctx, key, &job); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, fmt.Errorf("extraction job %s not found", jobID)
		}
		return nil, err
	}
	return &job, nil
}

// GetActiveJobID returns the live job ID for a pair, if any.
func (s *ExtractionService) GetActiveJobID(ctx context.Context, pairID uint) (string, error) {
	jobID, err := s.cache.Get(ctx, fmt.Sprintf(model.RedisKeyActiveJob, pairID))
	if errors.Is(err, cache.ErrNotFound) {
		return "", nil
	}
	return jobID, err
}

func (s *ExtractionService) runExtraction(ctx context.Context, job *model.ExtractionJob, pair *model.DocumentPair) {
	defer s.cache.Delete(ctx, fmt.Sprintf(model.RedisKeyActiveJob, pair.ID))

	job.Status = model.JobStatusProcessing

	// Phase 1: answer key. The solutions booklet is authoritative; the
	// questions booklet is a fallback when it yields nothing.
	s.updateJob(ctx, job, "answer_key", 5, "parsing answer key")
	answerKey := ExtractAnswerKey(pair.SolutionsText)
	if len(answerKey) == 0 {
		answerKey = ExtractAnswerKey(pair.QuestionsText)
	}
	job.AnswersFound = len(answerKey)

	// Phase 2: chunking
	s.updateJob(ctx, job, "chunking", 10, "splitting question text")
	chunks := SplitAtQuestionBoundaries(pair.QuestionsText, s.chunkSize)
	job.TotalChunks = len(chunks)

	// Phase 3: per-chunk extraction, 10-80% of overall progress
	s.updateJob(ctx, job, "extraction", 10, fmt.Sprintf("extracting questions from %d chunks", len(chunks)))
	results := s.extractor.ExtractAll(ctx, chunks, func(completed, total int) {
		job.CompletedChunks = completed
		progress := 10 + (70*completed)/total
		s.updateJob(ctx, job, "extraction", progress, fmt.Sprintf("processed %d/%d chunks", completed, total))
	})

	// Phase 4: merge
	s.updateJob(ctx, job, "merge", 85, "merging questions with answer key")
	merged := MergeChunkResults(results, answerKey)

	// Phase 5: persistence
	if merged.Success {
		s.updateJob(ctx, job, "save", 95, "saving questions")
		if err := s.saveQuestions(pair.ID, merged.Questions); err != nil {
			s.finishJob(ctx, job, merged, fmt.Sprintf("failed to save questions: %v", err))
			return
		}
	}

	s.finishJob(ctx, job, merged, "")
}

// saveQuestions replaces the pair's question set inside one transaction.
func (s *ExtractionService) saveQuestions(pairID uint, questions []model.ExamQuestion) error {
	tx := s.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Unscoped().Where("document_pair_id = ?", pairID).Delete(&model.ExamQuestion{}).Error; err != nil {
		tx.Rollback()
		return err
	}

	for i := range questions {
		questions[i].ID = 0
		questions[i].DocumentPairID = pairID
	}
	if err := tx.CreateInBatches(questions, 100).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

func (s *ExtractionService) finishJob(ctx context.Context, job *model.ExtractionJob, merged *ExtractionResult, saveError string) {
	now := time.Now()
	job.CompletedAt = &now
	job.Progress = 100
	job.CurrentPhase = "done"

	job.QuestionsFound = len(merged.Questions)
	job.AnswersFound = merged.AnswersFound
	job.MissingAnswers = merged.MissingAnswers
	job.Partial = merged.Partial
	job.CompletedChunks = merged.ChunksProcessed
	job.FailedChunks = len(merged.Errors)
	job.Errors = nil
	for _, e := range merged.Errors {
		job.Errors = append(job.Errors, fmt.Sprintf("chunk %d: %s", e.ChunkIndex, e.Message))
	}

	switch {
	case saveError != "":
		job.Status = model.JobStatusFailed
		job.Error = saveError
		job.Message = saveError
	case !merged.Success:
		job.Status = model.JobStatusFailed
		job.Error = "no questions could be extracted"
		job.Message = "extraction produced no questions"
	case merged.Partial:
		job.Status = model.JobStatusCompleted
		job.Message = fmt.Sprintf("extracted %d questions (partial: %d of %d chunks failed)",
			job.QuestionsFound, job.FailedChunks, merged.ChunksTotal)
	default:
		job.Status = model.JobStatusCompleted
		job.Message = fmt.Sprintf("extracted %d questions", job.QuestionsFound)
	}

	job.UpdatedAt = now
	if err := s.saveJobState(ctx, job); err != nil {
		log.Printf("ExtractionService: failed to persist final state for job %s: %v", job.JobID, err)
	}
	log.Printf("ExtractionService: job %s finished: %s", job.JobID, job.Message)
}

func (s *ExtractionService) updateJob(ctx context.Context, job *model.ExtractionJob, phase string, progress int, message string) {
	job.CurrentPhase = phase
	job.Progress = progress
	job.Message = message
	job.UpdatedAt = time.Now()
	if err := s.saveJobState(ctx, job); err != nil {
		log.Printf("ExtractionService: failed to update job %s state: %v", job.JobID, err)
	}
}

func (s *ExtractionService) saveJobState(ctx context.Context, job *model.ExtractionJob) error {
	key := fmt.Sprintf(model.RedisKeyJobState, job.JobID)
	return s.cache.SetJSON(ctx, key, job, jobStateTTL)
}
