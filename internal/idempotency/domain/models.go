package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ProcessedOperation records the result returned for an idempotency key.
// It is written once, in the same transaction as the effect it guards.
type ProcessedOperation struct {
	IdempotencyKey string         `gorm:"primaryKey;type:text" json:"idempotency_key"`
	Operation      string         `gorm:"type:text;not null" json:"operation"`
	ResultSnapshot datatypes.JSON `gorm:"not null" json:"result_snapshot"`
	RecordedAt     time.Time      `gorm:"not null" json:"recorded_at"`
}

// TableName sets the database table name.
func (ProcessedOperation) TableName() string { return "processed_operations" }

// Decode unmarshals the stored snapshot into out.
func (p *ProcessedOperation) Decode(out any) error {
	return json.Unmarshal(p.ResultSnapshot, out)
}
