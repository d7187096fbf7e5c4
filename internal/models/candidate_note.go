package models

import "time"

const (
	NoteKindNote       = "note"
	NoteKindTransition = "transition"
	NoteKindPromotion  = "promotion"
)

// CandidateNote is an append-only audit entry on a candidate.
type CandidateNote struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	CandidateID uint64    `gorm:"not null;index"`
	Author      string    `gorm:"type:varchar(100);not null"`
	Kind        string    `gorm:"type:varchar(20);not null"`
	FromStatus  string    `gorm:"type:varchar(24)"`
	ToStatus    string    `gorm:"type:varchar(24)"`
	Body        string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index"`
}

func (CandidateNote) TableName() string {
	return "candidate_notes"
}
