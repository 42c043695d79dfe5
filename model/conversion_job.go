package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConversionJobStatus represents the status of a conversion job
type ConversionJobStatus string

const (
	ConversionJobPending    ConversionJobStatus = "pending"
	ConversionJobProcessing ConversionJobStatus = "processing"
	ConversionJobCompleted  ConversionJobStatus = "completed"
	ConversionJobFailed     ConversionJobStatus = "failed"
)

// Document sides within a pair
const (
	SideQuestions = "questions"
	SideSolutions = "solutions"
)

// ConversionJob represents one orchestration run over both documents of a
// pair. At most one job is active per pair at a time.
type ConversionJob struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	DocumentPairID uint                `gorm:"not null;index" json:"document_pair_id"`
	Status         ConversionJobStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	Progress       int                 `gorm:"default:0" json:"progress"` // 0-100
	CurrentStep    string              `gorm:"type:varchar(255)" json:"current_step,omitempty"`

	// External conversion identifiers, one per document side
	QuestionsConversionID string `gorm:"type:varchar(100)" json:"questions_conversion_id,omitempty"`
	SolutionsConversionID string `gorm:"type:varchar(100)" json:"solutions_conversion_id,omitempty"`

	ErrorMessage string     `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	// Relationships
	DocumentPair DocumentPair `gorm:"foreignKey:DocumentPairID;constraint:OnDelete:CASCADE" json:"-"`
	Logs         []JobLog     `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"logs,omitempty"`
}

// JobLog is an append-only observability record for a conversion job
type JobLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	JobID     uint           `gorm:"not null;index" json:"job_id"`
	Level     string         `gorm:"type:varchar(10);not null" json:"level"` // info, warn, error
	Message   string         `gorm:"type:text;not null" json:"message"`
	Details   datatypes.JSON `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName specifies the table name for JobLog
func (JobLog) TableName() string {
	return "job_logs"
}
