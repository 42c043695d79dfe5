package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sahilchouksey/exam-extract-api/model"
	"github.com/sahilchouksey/exam-extract-api/services/digitalocean"
	"github.com/sahilchouksey/exam-extract-api/utils/cache"
)

const (
	defaultMaxPollAttempts = 60
	defaultPollInterval    = 10 * time.Second
	conversionLockTTL      = 15 * time.Minute

	// Progress milestones: 40 once both documents are submitted, 25 more per
	// completed side, 100 at finalization.
	progressAfterSubmit = 40
	progressPerSide     = 25
)

// ErrConversionInProgress is returned when a pair already has an active job
// or is not in a startable state.
var ErrConversionInProgress = errors.New("document pair already has an active conversion")

// objectStorage is the slice of the Spaces client the orchestrator needs.
type objectStorage interface {
	DownloadFile(ctx context.Context, key string) ([]byte, error)
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// documentConverter is satisfied by *ConversionClient.
type documentConverter interface {
	SubmitDocument(ctx context.Context, pdfBytes []byte, filename string) (string, error)
	GetStatus(ctx context.Context, conversionID string) (*ConversionStatus, error)
	DownloadResultArchive(ctx context.Context, conversionID string) ([]byte, error)
}

// OrchestratorConfig tunes the polling loop. Zero values get defaults.
type OrchestratorConfig struct {
	MaxPollAttempts int
	PollInterval    time.Duration
}

// ConversionOrchestrator drives the dual-document conversion workflow: it
// submits both booklets of a pair to the conversion service, polls them in
// lockstep, unpacks the result archives and finalizes the pair.
type ConversionOrchestrator struct {
	db        *gorm.DB
	storage   objectStorage
	converter documentConverter
	cache     *cache.RedisCache // optional; nil disables the distributed lock

	maxPollAttempts int
	pollInterval    time.Duration
}

func NewConversionOrchestrator(db *gorm.DB, storage objectStorage, converter documentConverter, redisCache *cache.RedisCache, cfg OrchestratorConfig) *ConversionOrchestrator {
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = defaultMaxPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &ConversionOrchestrator{
		db:              db,
		storage:         storage,
		converter:       converter,
		cache:           redisCache,
		maxPollAttempts: cfg.MaxPollAttempts,
		pollInterval:    cfg.PollInterval,
	}
}

// StartConversion begins a conversion run for a pair. The pair must be in
// pending or failed state; the status flip to processing is a compare-and-set
// so concurrent starts race safely and exactly one wins. Submission happens
// synchronously, polling continues in the background.
func (o *ConversionOrchestrator) StartConversion(ctx context.Context, pairID uint) (*model.ConversionJob, error) {
	if !o.acquireLock(ctx, pairID) {
		return nil, ErrConversionInProgress
	}

	res := o.db.Model(&model.DocumentPair{}).
		Where("id = ? AND status IN ?", pairID, []string{string(model.DocumentPairPending), string(model.DocumentPairFailed)}).
		Updates(map[string]interface{}{"status": model.DocumentPairProcessing, "status_message": ""})
	if res.Error != nil {
		o.releaseLock(pairID)
		return nil, fmt.Errorf("failed to claim document pair: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		o.releaseLock(pairID)
		var pair model.DocumentPair
		if err := o.db.First(&pair, pairID).Error; err != nil {
			return nil, fmt.Errorf("document pair %d not found: %w", pairID, err)
		}
		return nil, fmt.Errorf("%w: pair %d is %s", ErrConversionInProgress, pairID, pair.Status)
	}

	var pair model.DocumentPair
	if err := o.db.First(&pair, pairID).Error; err != nil {
		o.releaseLock(pairID)
		return nil, fmt.Errorf("failed to load document pair %d: %w", pairID, err)
	}

	job := &model.ConversionJob{
		DocumentPairID: pairID,
		Status:         model.ConversionJobProcessing,
		CurrentStep:    "downloading documents",
		StartedAt:      time.Now(),
	}
	if err := o.db.Create(job).Error; err != nil {
		o.releaseLock(pairID)
		return nil, fmt.Errorf("failed to create conversion job: %w", err)
	}
	o.db.Model(&model.DocumentPair{}).Where("id = ?", pairID).Update("current_job_id", job.ID)

	o.jobLog(job.ID, "info", "conversion started", map[string]interface{}{
		"pair_id":   pairID,
		"exam_name": pair.ExamName,
	})

	questionsID, solutionsID, err := o.submitBothSides(ctx, job, &pair)
	if err != nil {
		o.failJob(job.ID, pairID, err.Error())
		o.releaseLock(pairID)
		return nil, err
	}

	job.QuestionsConversionID = questionsID
	job.SolutionsConversionID = solutionsID
	job.Progress = progressAfterSubmit
	job.CurrentStep = "polling conversion service"
	o.db.Model(&model.ConversionJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"questions_conversion_id": questionsID,
		"solutions_conversion_id": solutionsID,
		"progress":                progressAfterSubmit,
		"current_step":            "polling conversion service",
	})

	go o.pollUntilComplete(context.Background(), job.ID, pairID, questionsID, solutionsID)

	return job, nil
}

func (o *ConversionOrchestrator) submitBothSides(ctx context.Context, job *model.ConversionJob, pair *model.DocumentPair) (questionsID, solutionsID string, err error) {
	questionsPDF, err := o.storage.DownloadFile(ctx, pair.QuestionsFileKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to download questions document: %w", err)
	}
	solutionsPDF, err := o.storage.DownloadFile(ctx, pair.SolutionsFileKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to download solutions document: %w", err)
	}

	questionsID, err = o.converter.SubmitDocument(ctx, questionsPDF, filepath.Base(pair.QuestionsFileKey))
	if err != nil {
		return "", "", fmt.Errorf("failed to submit questions document: %w", err)
	}
	solutionsID, err = o.converter.SubmitDocument(ctx, solutionsPDF, filepath.Base(pair.SolutionsFileKey))
	if err != nil {
		return "", "", fmt.Errorf("failed to submit solutions document: %w", err)
	}

	o.jobLog(job.ID, "info", "both documents submitted", map[string]interface{}{
		"questions_conversion_id": questionsID,
		"solutions_conversion_id": solutionsID,
	})
	return questionsID, solutionsID, nil
}

// sideState tracks one document side through the polling loop.
type sideState struct {
	side         string
	conversionID string
	done         bool
	text         string

	lastStatus *ConversionStatus
	lastErr    error
}

// pollUntilComplete checks both sides each cycle until they finish, one
// errors out, or the poll attempts run out. Both sides are always
// evaluated before sleeping so a completed side is harvested even when the
// other fails later.
func (o *ConversionOrchestrator) pollUntilComplete(ctx context.Context, jobID, pairID uint, questionsID, solutionsID string) {
	defer o.releaseLock(pairID)

	sides := []*sideState{
		{side: model.SideQuestions, conversionID: questionsID},
		{side: model.SideSolutions, conversionID: solutionsID},
	}
	progress := progressAfterSubmit

	for attempt := 0; attempt < o.maxPollAttempts; attempt++ {
		var wg sync.WaitGroup
		for _, s := range sides {
			if s.done {
				continue
			}
			wg.Add(1)
			go func(s *sideState) {
				defer wg.Done()
				s.lastStatus, s.lastErr = o.converter.GetStatus(ctx, s.conversionID)
			}(s)
		}
		wg.Wait()

		for _, s := range sides {
			if s.done {
				continue
			}
			if s.lastErr != nil {
				// Transient network failures do not fail the job; the side
				// is retried on the next cycle.
				o.jobLog(jobID, "warn", "status poll failed", map[string]interface{}{
					"side":  s.side,
					"error": s.lastErr.Error(),
				})
				continue
			}

			switch s.lastStatus.Status {
			case ConversionStateError:
				msg := fmt.Sprintf("conversion of %s document failed: %s", s.side, s.lastStatus.ErrorDetail)
				o.failJob(jobID, pairID, msg)
				return
			case ConversionStateCompleted:
				text, err := o.harvestSide(ctx, jobID, pairID, s)
				if err != nil {
					o.failJob(jobID, pairID, fmt.Sprintf("failed to process %s result: %v", s.side, err))
					return
				}
				s.text = text
				s.done = true
				progress += progressPerSide
				o.updateProgress(jobID, progress, fmt.Sprintf("%s document converted", s.side))
			}
		}

		if sides[0].done && sides[1].done {
			o.finalize(ctx, jobID, pairID, sides[0].text, sides[1].text)
			return
		}

		select {
		case <-ctx.Done():
			o.failJob(jobID, pairID, "conversion polling cancelled")
			return
		case <-time.After(o.pollInterval):
		}
	}

	var unfinished []string
	for _, s := range sides {
		if !s.done {
			unfinished = append(unfinished, s.side)
		}
	}
	o.failJob(jobID, pairID, fmt.Sprintf("conversion timed out after %d polls waiting for: %s",
		o.maxPollAttempts, strings.Join(unfinished, ", ")))
}

// harvestSide downloads and unpacks one completed side: text is returned,
// images are re-uploaded to object storage and recorded.
func (o *ConversionOrchestrator) harvestSide(ctx context.Context, jobID, pairID uint, s *sideState) (string, error) {
	archive, err := o.converter.DownloadResultArchive(ctx, s.conversionID)
	if err != nil {
		return "", fmt.Errorf("failed to download result archive: %w", err)
	}

	text, images, err := extractResultArchive(archive)
	if err != nil {
		return "", err
	}

	uploaded := 0
	for _, img := range images {
		key := fmt.Sprintf("%d/%s/%s", pairID, s.side, img.name)
		url, err := o.storage.UploadBytes(ctx, key, img.data, digitalocean.GetContentType(img.name))
		if err != nil {
			o.jobLog(jobID, "warn", "image upload failed", map[string]interface{}{
				"side": s.side, "filename": img.name, "error": err.Error(),
			})
			continue
		}
		record := model.ExtractedImage{
			DocumentPairID:   pairID,
			SourceSide:       s.side,
			OriginalFilename: img.name,
			SpacesKey:        key,
			StorageURL:       url,
		}
		if err := o.db.Create(&record).Error; err != nil {
			log.Printf("ConversionOrchestrator: failed to record image %s: %v", key, err)
			continue
		}
		uploaded++
	}

	o.jobLog(jobID, "info", "side harvested", map[string]interface{}{
		"side": s.side, "text_chars": len(text), "images": uploaded,
	})
	return text, nil
}

// finalize persists both texts, runs the advisory title check and marks the
// job and pair completed.
func (o *ConversionOrchestrator) finalize(ctx context.Context, jobID, pairID uint, questionsText, solutionsText string) {
	var pair model.DocumentPair
	if err := o.db.First(&pair, pairID).Error; err != nil {
		o.failJob(jobID, pairID, fmt.Sprintf("failed to reload pair for finalization: %v", err))
		return
	}

	titleCheck := validateExpectedTitles(pair.ExpectedTitles, questionsText)

	updates := map[string]interface{}{
		"questions_text": questionsText,
		"solutions_text": solutionsText,
		"status":         model.DocumentPairCompleted,
		"status_message": "conversion completed",
	}
	if titleCheck != "" {
		updates["title_check"] = titleCheck
	}
	if err := o.db.Model(&model.DocumentPair{}).Where("id = ?", pairID).Updates(updates).Error; err != nil {
		o.failJob(jobID, pairID, fmt.Sprintf("failed to persist conversion results: %v", err))
		return
	}

	now := time.Now()
	o.db.Model(&model.ConversionJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":       model.ConversionJobCompleted,
		"progress":     100,
		"current_step": "completed",
		"completed_at": &now,
	})

	o.jobLog(jobID, "info", "conversion completed", map[string]interface{}{
		"title_check":     titleCheck,
		"questions_chars": len(questionsText),
		"solutions_chars": len(solutionsText),
	})
	log.Printf("ConversionOrchestrator: pair %d conversion completed (title check: %s)", pairID, titleCheck)
}

// validateExpectedTitles is an advisory lowercase substring check of each
// expected title against the converted questions text. An empty title list
// skips the check entirely.
func validateExpectedTitles(expected datatypes.JSON, questionsText string) string {
	if len(expected) == 0 {
		return ""
	}
	var titles []string
	if err := json.Unmarshal(expected, &titles); err != nil || len(titles) == 0 {
		return ""
	}

	haystack := strings.ToLower(questionsText)
	for _, title := range titles {
		if !strings.Contains(haystack, strings.ToLower(strings.TrimSpace(title))) {
			return model.TitleCheckMismatch
		}
	}
	return model.TitleCheckValid
}

type archiveImage struct {
	name string
	data []byte
}

// extractResultArchive unpacks a conversion result zip: .txt and .md entries
// are concatenated into the page text, image entries are returned for upload.
func extractResultArchive(archive []byte) (string, []archiveImage, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return "", nil, fmt.Errorf("invalid result archive: %w", err)
	}

	var textBuilder strings.Builder
	var images []archiveImage

	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(f.Name))
		isText := ext == ".txt" || ext == ".md"
		isImage := ext == ".png" || ext == ".jpg" || ext == ".jpeg" || ext == ".gif" || ext == ".webp"
		if !isText && !isImage {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return "", nil, fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", nil, fmt.Errorf("failed to read archive entry %s: %w", f.Name, err)
		}

		if isText {
			if textBuilder.Len() > 0 {
				textBuilder.WriteString("\n")
			}
			textBuilder.Write(data)
		} else {
			images = append(images, archiveImage{name: filepath.Base(f.Name), data: data})
		}
	}

	return textBuilder.String(), images, nil
}

func (o *ConversionOrchestrator) updateProgress(jobID uint, progress int, step string) {
	o.db.Model(&model.ConversionJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"progress":     progress,
		"current_step": step,
	})
}

func (o *ConversionOrchestrator) failJob(jobID, pairID uint, message string) {
	log.Printf("ConversionOrchestrator: job %d failed: %s", jobID, message)

	now := time.Now()
	o.db.Model(&model.ConversionJob{}).Where("id = ?", jobID).Updates(map[string]interface{}{
		"status":        model.ConversionJobFailed,
		"error_message": message,
		"completed_at":  &now,
	})
	o.db.Model(&model.DocumentPair{}).Where("id = ?", pairID).Updates(map[string]interface{}{
		"status":         model.DocumentPairFailed,
		"status_message": message,
	})
	o.jobLog(jobID, "error", message, nil)
}

// jobLog appends an observability record; logging failures are swallowed.
func (o *ConversionOrchestrator) jobLog(jobID uint, level, message string, details map[string]interface{}) {
	entry := model.JobLog{JobID: jobID, Level: level, Message: message}
	if details != nil {
		if data, err := json.Marshal(details); err == nil {
			entry.Details = datatypes.JSON(data)
		}
	}
	if err := o.db.Create(&entry).Error; err != nil {
		log.Printf("ConversionOrchestrator: failed to write job log: %v", err)
	}
}

func (o *ConversionOrchestrator) acquireLock(ctx context.Context, pairID uint) bool {
	if o.cache == nil {
		return true
	}
	key := fmt.Sprintf(model.RedisKeyConversionLock, pairID)
	ok, err := o.cache.SetNX(ctx, key, time.Now().Unix(), conversionLockTTL)
	if err != nil {
		// Redis being down must not block conversions; the DB CAS still
		// guards against double starts.
		log.Printf("ConversionOrchestrator: lock acquire failed for pair %d: %v", pairID, err)
		return true
	}
	return ok
}

func (o *ConversionOrchestrator) releaseLock(pairID uint) {
	if o.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.cache.Delete(ctx, fmt.Sprintf(model.RedisKeyConversionLock, pairID)); err != nil {
		log.Printf("ConversionOrchestrator: lock release failed for pair %d: %v", pairID, err)
	}
}
