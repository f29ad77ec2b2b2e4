package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// resourceModel is the GORM row backing one persistence.Candidate. ID uses
// UUIDv7 (time-ordered) so SelectResource's "oldest AVAILABLE first" query
// can rely on the primary key's natural ordering as a tiebreaker alongside
// created_at.
type resourceModel struct {
	ID           uuid.UUID `gorm:"type:text;primaryKey"`
	Status       string    `gorm:"not null;index"`
	ResponseCode string    `gorm:"not null;default:''"`
	Annotation   string    `gorm:"type:text;not null;default:''"`
	ClientName   string    `gorm:"not null;default:''"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (resourceModel) TableName() string { return "resources" }

// BeforeCreate generates a new UUIDv7 if the ID is not already set.
func (r *resourceModel) BeforeCreate(tx *gorm.DB) error {
	if r.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		r.ID = id
	}
	return nil
}
