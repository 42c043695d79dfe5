package model

import "time"

// ExtractedImage is an image pulled out of a conversion result archive and
// re-uploaded to object storage. Immutable once created.
type ExtractedImage struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	DocumentPairID   uint      `gorm:"not null;index" json:"document_pair_id"`
	SourceSide       string    `gorm:"type:varchar(10);not null" json:"source_side"` // questions or solutions
	OriginalFilename string    `gorm:"type:varchar(500);not null" json:"original_filename"`
	SpacesKey        string    `gorm:"type:varchar(500);not null" json:"spaces_key"`
	StorageURL       string    `gorm:"type:text;not null" json:"storage_url"`
}
