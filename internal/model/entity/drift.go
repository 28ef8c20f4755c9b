package entity

import "time"

// DriftStatus 漂移记录状态
type DriftStatus string

const (
	DriftStatusOpen     DriftStatus = "open"
	DriftStatusResolved DriftStatus = "resolved"
)

// ConfigDriftRecord 现场构型与基线不一致的记录
//
// (line_number, part_number) 在 open 状态下唯一，由部分唯一索引保证。
type ConfigDriftRecord struct {
	ID                 string      `json:"id" gorm:"primaryKey;size:32"`
	DocumentID         string      `json:"document_id" gorm:"size:32;not null;index"`
	LineNumber         int         `json:"line_number" gorm:"not null;index:idx_drift_line_detected,priority:1;uniqueIndex:idx_drift_open_pair,where:status = 'open'"`
	PartNumber         string      `json:"part_number" gorm:"size:64;not null;uniqueIndex:idx_drift_open_pair,where:status = 'open'"`
	ExpectedRevisionID string      `json:"expected_revision_id" gorm:"size:32;not null"`
	ObservedValue      string      `json:"observed_value" gorm:"size:256"`
	DetectedAt         time.Time   `json:"detected_at" gorm:"not null;index:idx_drift_line_detected,priority:2"`
	Status             DriftStatus `json:"status" gorm:"size:16;not null;index"`
	ResolvedAt         *time.Time  `json:"resolved_at"`
	ResolvedBy         string      `json:"resolved_by,omitempty" gorm:"size:64"`
	ResolutionNote     string      `json:"resolution_note,omitempty" gorm:"type:text"`
}

func (ConfigDriftRecord) TableName() string {
	return "config_drift_records"
}
