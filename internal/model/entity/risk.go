package entity

import "time"

// VolatilityIndex 波动等级
type VolatilityIndex string

const (
	VolatilityLow    VolatilityIndex = "Low"
	VolatilityMedium VolatilityIndex = "Medium"
	VolatilityHigh   VolatilityIndex = "High"
)

// RiskProfile 件号风险画像，只通过增量更新修改
type RiskProfile struct {
	PartNumber      string          `json:"part_number" gorm:"primaryKey;size:64"`
	RiskScore       float64         `json:"risk_score" gorm:"not null;index"`
	VolatilityIndex VolatilityIndex `json:"volatility_index" gorm:"size:8;not null;index"`
	Accumulator     float64         `json:"-" gorm:"not null"` // decayed weighted sum, saturates at 100
	LastEventAt     *time.Time      `json:"last_event_at"`
	LastReviewed    time.Time       `json:"last_reviewed" gorm:"not null;index"`
	RevisionChanges int             `json:"revision_changes" gorm:"not null"`
	DriftEvents     int             `json:"drift_events" gorm:"not null"`
	Decisions       int             `json:"decisions" gorm:"not null"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (RiskProfile) TableName() string {
	return "part_risk_profiles"
}
