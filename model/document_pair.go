package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DocumentPairStatus represents the processing status of a document pair
type DocumentPairStatus string

const (
	DocumentPairPending    DocumentPairStatus = "pending"
	DocumentPairProcessing DocumentPairStatus = "processing"
	DocumentPairCompleted  DocumentPairStatus = "completed"
	DocumentPairFailed     DocumentPairStatus = "failed"
)

// Title validation outcomes recorded after conversion. Advisory only.
const (
	TitleCheckValid    = "valid"
	TitleCheckMismatch = "mismatch"
)

// DocumentPair represents one questions booklet and its matching solutions
// booklet, uploaded together for joint processing. Status transitions are
// driven exclusively by the conversion orchestrator.
type DocumentPair struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	ExamName  string `gorm:"type:varchar(255);not null" json:"exam_name"`
	Year      int    `gorm:"default:0" json:"year"`
	PaperType string `gorm:"type:varchar(100)" json:"paper_type,omitempty"` // e.g., "Main", "Advanced", "Shift 1"

	QuestionsFileKey string `gorm:"type:varchar(500);not null" json:"questions_file_key"`
	QuestionsFileURL string `gorm:"type:text" json:"questions_file_url"`
	SolutionsFileKey string `gorm:"type:varchar(500);not null" json:"solutions_file_key"`
	SolutionsFileURL string `gorm:"type:text" json:"solutions_file_url"`

	Status        DocumentPairStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	StatusMessage string             `gorm:"type:text" json:"status_message,omitempty"`
	CurrentJobID  *uint              `gorm:"index" json:"current_job_id,omitempty"`

	// Raw page text persisted once conversion of both sides completes
	QuestionsText string `gorm:"type:text" json:"questions_text,omitempty"`
	SolutionsText string `gorm:"type:text" json:"solutions_text,omitempty"`

	// ExpectedTitles is an optional JSON array of chapter/topic title
	// substrings checked against the converted questions text.
	ExpectedTitles datatypes.JSON `json:"expected_titles,omitempty"`
	TitleCheck     string         `gorm:"type:varchar(20)" json:"title_check,omitempty"`

	// Relationships
	Images    []ExtractedImage `gorm:"foreignKey:DocumentPairID;constraint:OnDelete:CASCADE" json:"images,omitempty"`
	Questions []ExamQuestion   `gorm:"foreignKey:DocumentPairID;constraint:OnDelete:CASCADE" json:"questions,omitempty"`
}

// DocumentPairResponse is used for API responses
type DocumentPairResponse struct {
	ID               uint               `json:"id"`
	ExamName         string             `json:"exam_name"`
	Year             int                `json:"year"`
	PaperType        string             `json:"paper_type,omitempty"`
	QuestionsFileURL string             `json:"questions_file_url"`
	SolutionsFileURL string             `json:"solutions_file_url"`
	Status           DocumentPairStatus `json:"status"`
	StatusMessage    string             `json:"status_message,omitempty"`
	CurrentJobID     *uint              `json:"current_job_id,omitempty"`
	TitleCheck       string             `json:"title_check,omitempty"`
	HasQuestionsText bool               `json:"has_questions_text"`
	HasSolutionsText bool               `json:"has_solutions_text"`
	ImageCount       int                `json:"image_count"`
	QuestionCount    int                `json:"question_count"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// ToResponse converts DocumentPair to DocumentPairResponse.
// The raw text blobs are large and are deliberately not echoed back.
func (p *DocumentPair) ToResponse() *DocumentPairResponse {
	return &DocumentPairResponse{
		ID:               p.ID,
		ExamName:         p.ExamName,
		Year:             p.Year,
		PaperType:        p.PaperType,
		QuestionsFileURL: p.QuestionsFileURL,
		SolutionsFileURL: p.SolutionsFileURL,
		Status:           p.Status,
		StatusMessage:    p.StatusMessage,
		CurrentJobID:     p.CurrentJobID,
		TitleCheck:       p.TitleCheck,
		HasQuestionsText: p.QuestionsText != "",
		HasSolutionsText: p.SolutionsText != "",
		ImageCount:       len(p.Images),
		QuestionCount:    len(p.Questions),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}
