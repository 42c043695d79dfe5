package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExamQuestionType classifies how a question is answered
type ExamQuestionType string

const (
	QuestionTypeMCQ     ExamQuestionType = "mcq"
	QuestionTypeInteger ExamQuestionType = "integer"
)

// Difficulty levels form a closed set; free-text model output is mapped onto it
const (
	DifficultyLow          = "Low"
	DifficultyMedium       = "Medium"
	DifficultyIntermediate = "Intermediate"
	DifficultyAdvanced     = "Advanced"
)

// ExamQuestion is a reconciled question record produced by the merge engine,
// ready for human review. CorrectAnswer is populated only from the answer
// key, never from the structured extractor.
type ExamQuestion struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	DocumentPairID uint `gorm:"not null;uniqueIndex:idx_pair_question_number" json:"document_pair_id"`
	QuestionNumber int  `gorm:"not null;uniqueIndex:idx_pair_question_number" json:"question_number"`

	QuestionText string            `gorm:"type:text;not null" json:"question_text"`
	Options      datatypes.JSONMap `json:"options,omitempty"` // label -> text, labels A-E
	QuestionType ExamQuestionType  `gorm:"type:varchar(10)" json:"question_type,omitempty"`

	CorrectAnswer string `gorm:"type:varchar(20)" json:"correct_answer,omitempty"`
	Difficulty    string `gorm:"type:varchar(20);default:'Medium'" json:"difficulty"`
	Marks         int    `gorm:"default:0" json:"marks"`
	Explanation   string `gorm:"type:text" json:"explanation,omitempty"`

	Verified bool `gorm:"default:false" json:"verified"`

	// Relationships
	DocumentPair DocumentPair `gorm:"foreignKey:DocumentPairID;constraint:OnDelete:CASCADE" json:"-"`
}

// ExamQuestionResponse is used for API responses
type ExamQuestionResponse struct {
	ID             uint              `json:"id"`
	QuestionNumber int               `json:"question_number"`
	QuestionText   string            `json:"question_text"`
	Options        datatypes.JSONMap `json:"options,omitempty"`
	QuestionType   ExamQuestionType  `json:"question_type,omitempty"`
	CorrectAnswer  string            `json:"correct_answer,omitempty"`
	Difficulty     string            `json:"difficulty"`
	Marks          int               `json:"marks"`
	Explanation    string            `json:"explanation,omitempty"`
	Verified       bool              `json:"verified"`
}

// ToResponse converts ExamQuestion to ExamQuestionResponse
func (q *ExamQuestion) ToResponse() ExamQuestionResponse {
	return ExamQuestionResponse{
		ID:             q.ID,
		QuestionNumber: q.QuestionNumber,
		QuestionText:   q.QuestionText,
		Options:        q.Options,
		QuestionType:   q.QuestionType,
		CorrectAnswer:  q.CorrectAnswer,
		Difficulty:     q.Difficulty,
		Marks:          q.Marks,
		Explanation:    q.Explanation,
		Verified:       q.Verified,
	}
}
