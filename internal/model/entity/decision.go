package entity

import "time"

// DecisionOutcome 决策关闭结论
type DecisionOutcome string

const (
	// DecisionAcceptDrift 接受现场构型，关闭时会解决对应的漂移记录
	DecisionAcceptDrift DecisionOutcome = "accept_drift"
	DecisionRework      DecisionOutcome = "rework"
	DecisionDeferred    DecisionOutcome = "deferred"
	DecisionNoAction    DecisionOutcome = "no_action"
)

// Valid 是否为已知结论
func (o DecisionOutcome) Valid() bool {
	switch o {
	case DecisionAcceptDrift, DecisionRework, DecisionDeferred, DecisionNoAction:
		return true
	}
	return false
}

// DecisionLogEntry 工程处置决策日志，只追加，关闭后不可变
type DecisionLogEntry struct {
	ID             string          `json:"id" gorm:"primaryKey;size:32"`
	UserID         string          `json:"user_id" gorm:"size:64;not null;index:idx_decision_user_open,priority:1"`
	PartNumber     string          `json:"part_number" gorm:"size:64;not null;index:idx_decision_part_line,priority:1"`
	LineNumber     int             `json:"line_number" gorm:"not null;index:idx_decision_part_line,priority:2"`
	Decision       string          `json:"decision" gorm:"type:text;not null"`
	Outcome        DecisionOutcome `json:"outcome,omitempty" gorm:"size:32"`
	Note           string          `json:"note,omitempty" gorm:"type:text"`
	TimestampOpen  time.Time       `json:"timestamp_open" gorm:"not null;index:idx_decision_user_open,priority:2"`
	TimestampClose *time.Time      `json:"timestamp_close"`
}

func (DecisionLogEntry) TableName() string {
	return "decision_log_entries"
}

// IsClosed 是否已关闭
func (e *DecisionLogEntry) IsClosed() bool {
	return e.TimestampClose != nil
}
