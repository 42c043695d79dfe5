package services

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sahilchouksey/exam-extract-api/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// A fresh connection would see a fresh in-memory database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to access underlying database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&model.DocumentPair{},
		&model.ConversionJob{},
		&model.JobLog{},
		&model.ExtractedImage{},
		&model.ExamQuestion{},
	); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

type fakeStorage struct {
	mu      sync.Mutex
	files   map[string][]byte
	uploads map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: make(map[string][]byte), uploads: make(map[string][]byte)}
}

func (f *fakeStorage) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[key]
	if !ok {
		return nil, fmt.Errorf("no such file: %s", key)
	}
	return data, nil
}

func (f *fakeStorage) UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[key] = data
	return "https://cdn.test/" + key, nil
}

func (f *fakeStorage) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

// fakeConverter scripts a status sequence per conversion ID; the last entry
// repeats once the sequence is exhausted.
type fakeConverter struct {
	mu        sync.Mutex
	statuses  map[string][]*ConversionStatus
	archives  map[string][]byte
	submitted int
}

func newFakeConverter() *fakeConverter {
	return &fakeConverter{
		statuses: make(map[string][]*ConversionStatus),
		archives: make(map[string][]byte),
	}
}

func (f *fakeConverter) SubmitDocument(ctx context.Context, pdfBytes []byte, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted++
	return "conv-" + filename, nil
}

func (f *fakeConverter) GetStatus(ctx context.Context, conversionID string) (*ConversionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq, ok := f.statuses[conversionID]
	if !ok || len(seq) == 0 {
		return nil, fmt.Errorf("unknown conversion: %s", conversionID)
	}
	status := seq[0]
	if len(seq) > 1 {
		f.statuses[conversionID] = seq[1:]
	}
	return status, nil
}

func (f *fakeConverter) DownloadResultArchive(ctx context.Context, conversionID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	archive, ok := f.archives[conversionID]
	if !ok {
		return nil, fmt.Errorf("no archive for conversion: %s", conversionID)
	}
	return archive, nil
}

func buildArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range entries {
		entry, err := w.Create(name)
		if err != nil {
			t.Fatalf("Failed to create archive entry %s: %v", name, err)
		}
		if _, err := entry.Write(data); err != nil {
			t.Fatalf("Failed to write archive entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close archive: %v", err)
	}
	return buf.Bytes()
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

func createTestPair(t *testing.T, db *gorm.DB, status model.DocumentPairStatus) *model.DocumentPair {
	t.Helper()
	pair := &model.DocumentPair{
		ExamName:         "JEE Main 2024",
		Year:             2024,
		QuestionsFileKey: "exam-pairs/questions/q.pdf",
		SolutionsFileKey: "exam-pairs/solutions/s.pdf",
		Status:           status,
	}
	if err := db.Create(pair).Error; err != nil {
		t.Fatalf("Failed to create test pair: %v", err)
	}
	return pair
}

func TestStartConversionHappyPath(t *testing.T) {
	db := newTestDB(t)
	storage := newFakeStorage()
	storage.files["exam-pairs/questions/q.pdf"] = []byte("%PDF-questions")
	storage.files["exam-pairs/solutions/s.pdf"] = []byte("%PDF-solutions")

	converter := newFakeConverter()
	converter.statuses["conv-q.pdf"] = []*ConversionStatus{
		{ConversionID: "conv-q.pdf", Status: ConversionStateProcessing},
		{ConversionID: "conv-q.pdf", Status: ConversionStateCompleted},
	}
	converter.statuses["conv-s.pdf"] = []*ConversionStatus{
		{ConversionID: "conv-s.pdf", Status: ConversionStateCompleted},
	}
	converter.archives["conv-q.pdf"] = buildArchive(t, map[string][]byte{
		"page_1.md":  []byte("Physics: Kinematics\n1. A ball is thrown..."),
		"figure.png": []byte("png-bytes"),
	})
	converter.archives["conv-s.pdf"] = buildArchive(t, map[string][]byte{
		"page_1.md":   []byte("ANSWER KEY\n1. (A)"),
		"diagram.jpg": []byte("jpg-bytes"),
	})

	pair := createTestPair(t, db, model.DocumentPairPending)
	db.Model(pair).Update("expected_titles", datatypes.JSON(`["Kinematics"]`))

	orchestrator := NewConversionOrchestrator(db, storage, converter, nil, OrchestratorConfig{
		MaxPollAttempts: 50,
		PollInterval:    10 * time.Millisecond,
	})

	job, err := orchestrator.StartConversion(context.Background(), pair.ID)
	if err != nil {
		t.Fatalf("StartConversion failed: %v", err)
	}
	if job.Progress != progressAfterSubmit {
		t.Errorf("Expected progress %d after submit, got %d", progressAfterSubmit, job.Progress)
	}

	waitFor(t, 5*time.Second, func() bool {
		var p model.DocumentPair
		db.First(&p, pair.ID)
		return p.Status == model.DocumentPairCompleted
	})

	var updated model.DocumentPair
	db.First(&updated, pair.ID)
	if !strings.Contains(updated.QuestionsText, "Kinematics") {
		t.Errorf("Questions text not persisted: %q", truncate(updated.QuestionsText, 40))
	}
	if !strings.Contains(updated.SolutionsText, "ANSWER KEY") {
		t.Errorf("Solutions text not persisted: %q", truncate(updated.SolutionsText, 40))
	}
	if updated.TitleCheck != model.TitleCheckValid {
		t.Errorf("Expected title check %q, got %q", model.TitleCheckValid, updated.TitleCheck)
	}

	var finishedJob model.ConversionJob
	db.First(&finishedJob, job.ID)
	if finishedJob.Status != model.ConversionJobCompleted {
		t.Errorf("Expected job completed, got %s", finishedJob.Status)
	}
	if finishedJob.Progress != 100 {
		t.Errorf("Expected progress 100, got %d", finishedJob.Progress)
	}
	if finishedJob.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}

	var imageCount int64
	db.Model(&model.ExtractedImage{}).Where("document_pair_id = ?", pair.ID).Count(&imageCount)
	if imageCount != 2 {
		t.Errorf("Expected 2 extracted images, got %d", imageCount)
	}
	if storage.uploadCount() != 2 {
		t.Errorf("Expected 2 image uploads, got %d", storage.uploadCount())
	}
}

func TestStartConversionRejectsActivePair(t *testing.T) {
	db := newTestDB(t)
	pair := createTestPair(t, db, model.DocumentPairProcessing)

	orchestrator := NewConversionOrchestrator(db, newFakeStorage(), newFakeConverter(), nil, OrchestratorConfig{})

	_, err := orchestrator.StartConversion(context.Background(), pair.ID)
	if !errors.Is(err, ErrConversionInProgress) {
		t.Fatalf("Expected ErrConversionInProgress, got %v", err)
	}
}

func TestStartConversionRetryAfterFailure(t *testing.T) {
	db := newTestDB(t)
	storage := newFakeStorage()
	storage.files["exam-pairs/questions/q.pdf"] = []byte("%PDF")
	storage.files["exam-pairs/solutions/s.pdf"] = []byte("%PDF")

	converter := newFakeConverter()
	converter.statuses["conv-q.pdf"] = []*ConversionStatus{{Status: ConversionStateProcessing}}
	converter.statuses["conv-s.pdf"] = []*ConversionStatus{{Status: ConversionStateProcessing}}

	pair := createTestPair(t, db, model.DocumentPairFailed)

	orchestrator := NewConversionOrchestrator(db, storage, converter, nil, OrchestratorConfig{
		MaxPollAttempts: 1,
		PollInterval:    time.Millisecond,
	})

	if _, err := orchestrator.StartConversion(context.Background(), pair.ID); err != nil {
		t.Fatalf("Failed pairs must be restartable: %v", err)
	}
}

func TestConversionSideErrorFailsPair(t *testing.T) {
	db := newTestDB(t)
	storage := newFakeStorage()
	storage.files["exam-pairs/questions/q.pdf"] = []byte("%PDF")
	storage.files["exam-pairs/solutions/s.pdf"] = []byte("%PDF")

	converter := newFakeConverter()
	converter.statuses["conv-q.pdf"] = []*ConversionStatus{{Status: ConversionStateProcessing}}
	converter.statuses["conv-s.pdf"] = []*ConversionStatus{
		{Status: ConversionStateError, ErrorDetail: "unreadable page 3"},
	}

	pair := createTestPair(t, db, model.DocumentPairPending)

	orchestrator := NewConversionOrchestrator(db, storage, converter, nil, OrchestratorConfig{
		MaxPollAttempts: 10,
		PollInterval:    10 * time.Millisecond,
	})

	if _, err := orchestrator.StartConversion(context.Background(), pair.ID); err != nil {
		t.Fatalf("StartConversion failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		var p model.DocumentPair
		db.First(&p, pair.ID)
		return p.Status == model.DocumentPairFailed
	})

	var failed model.DocumentPair
	db.First(&failed, pair.ID)
	if !strings.Contains(failed.StatusMessage, "solutions") {
		t.Errorf("Failure message should name the failed side, got %q", failed.StatusMessage)
	}
}

func TestConversionTimeout(t *testing.T) {
	db := newTestDB(t)
	storage := newFakeStorage()
	storage.files["exam-pairs/questions/q.pdf"] = []byte("%PDF")
	storage.files["exam-pairs/solutions/s.pdf"] = []byte("%PDF")

	converter := newFakeConverter()
	converter.statuses["conv-q.pdf"] = []*ConversionStatus{{Status: ConversionStateProcessing}}
	converter.statuses["conv-s.pdf"] = []*ConversionStatus{{Status: ConversionStateProcessing}}

	pair := createTestPair(t, db, model.DocumentPairPending)

	orchestrator := NewConversionOrchestrator(db, storage, converter, nil, OrchestratorConfig{
		MaxPollAttempts: 3,
		PollInterval:    5 * time.Millisecond,
	})

	if _, err := orchestrator.StartConversion(context.Background(), pair.ID); err != nil {
		t.Fatalf("StartConversion failed: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		var p model.DocumentPair
		db.First(&p, pair.ID)
		return p.Status == model.DocumentPairFailed
	})

	var job model.ConversionJob
	db.Where("document_pair_id = ?", pair.ID).First(&job)
	if !strings.Contains(job.ErrorMessage, "timed out") {
		t.Errorf("Expected timeout error, got %q", job.ErrorMessage)
	}
	if !strings.Contains(job.ErrorMessage, model.SideQuestions) || !strings.Contains(job.ErrorMessage, model.SideSolutions) {
		t.Errorf("Timeout error should name unfinished sides, got %q", job.ErrorMessage)
	}
}

func TestExtractResultArchive(t *testing.T) {
	archive := buildArchive(t, map[string][]byte{
		"pages/page_1.md":  []byte("first page"),
		"pages/page_2.txt": []byte("second page"),
		"images/fig.png":   []byte("png"),
		"metadata.json":    []byte(`{"ignored": true}`),
	})

	text, images, err := extractResultArchive(archive)
	if err != nil {
		t.Fatalf("extractResultArchive failed: %v", err)
	}
	if !strings.Contains(text, "first page") || !strings.Contains(text, "second page") {
		t.Errorf("Text entries not concatenated: %q", text)
	}
	if len(images) != 1 || images[0].name != "fig.png" {
		t.Errorf("Expected one image fig.png, got %+v", images)
	}
	if strings.Contains(text, "ignored") {
		t.Error("Non-text entries must not leak into the page text")
	}
}

func TestExtractResultArchiveInvalid(t *testing.T) {
	if _, _, err := extractResultArchive([]byte("not a zip")); err == nil {
		t.Error("Expected error for invalid archive")
	}
}

func TestValidateExpectedTitles(t *testing.T) {
	text := "Chapter 1: Kinematics\nChapter 2: Laws of Motion"

	if got := validateExpectedTitles(datatypes.JSON(`["kinematics", "Laws of Motion"]`), text); got != model.TitleCheckValid {
		t.Errorf("Expected valid, got %q", got)
	}
	if got := validateExpectedTitles(datatypes.JSON(`["Thermodynamics"]`), text); got != model.TitleCheckMismatch {
		t.Errorf("Expected mismatch, got %q", got)
	}
	if got := validateExpectedTitles(nil, text); got != "" {
		t.Errorf("Expected empty result for no titles, got %q", got)
	}
	if got := validateExpectedTitles(datatypes.JSON(`not json`), text); got != "" {
		t.Errorf("Expected empty result for malformed titles, got %q", got)
	}
}
