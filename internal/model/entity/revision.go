package entity

import (
	"time"

	"gorm.io/datatypes"
)

// RevisionStatus 版本状态
type RevisionStatus string

const (
	RevisionStatusDraft       RevisionStatus = "draft"
	RevisionStatusUnderReview RevisionStatus = "under_review"
	RevisionStatusApproved    RevisionStatus = "approved"
	RevisionStatusSuperseded  RevisionStatus = "superseded"
	RevisionStatusRejected    RevisionStatus = "rejected"
)

// Revision 文档版本节点
//
// PreviousRevisionID / NextRevisionID 只在追加版本时写入，其他代码路径不得修改。
type Revision struct {
	ID                 string                              `json:"id" gorm:"primaryKey;size:32"`
	DocumentID         string                              `json:"document_id" gorm:"size:32;not null;uniqueIndex:idx_revisions_doc_label;uniqueIndex:idx_revisions_doc_version"`
	Revision           string                              `json:"revision" gorm:"size:32;not null;uniqueIndex:idx_revisions_doc_label"`
	Version            int                                 `json:"version" gorm:"not null;uniqueIndex:idx_revisions_doc_version"`
	PreviousRevisionID *string                             `json:"previous_revision_id" gorm:"size:32;index"`
	NextRevisionID     *string                             `json:"next_revision_id" gorm:"size:32;index"`
	Status             RevisionStatus                      `json:"status" gorm:"size:16;not null;index"`
	PartCount          int                                 `json:"part_count" gorm:"not null"`
	ChangeSummary      datatypes.JSONType[ChangeSummary]   `json:"change_summary"`
	SnapshotHash       string                              `json:"snapshot_hash" gorm:"size:64;index"`
	SnapshotObject     string                              `json:"snapshot_object,omitempty" gorm:"size:256"`
	IssueDate          *time.Time                          `json:"issue_date,omitempty"`
	CreatedBy          string                              `json:"created_by" gorm:"size:64"`
	ApprovedBy         string                              `json:"approved_by,omitempty" gorm:"size:64"`
	ApprovedAt         *time.Time                          `json:"approved_at,omitempty"`
	ReviewComment      string                              `json:"review_comment,omitempty" gorm:"type:text"`
	CreatedAt          time.Time                           `json:"created_at"`
	UpdatedAt          time.Time                           `json:"updated_at"`

	// 关联
	Parts []RevisionPart `json:"parts,omitempty" gorm:"foreignKey:RevisionID"`
}

func (Revision) TableName() string {
	return "revisions"
}

// IsTail 是否为链尾
func (r *Revision) IsTail() bool {
	return r.NextRevisionID == nil
}

// ChangeSummary 相邻版本之间的零件变更
type ChangeSummary struct {
	Type     string         `json:"type"` // INITIAL / UPDATE
	Added    []string       `json:"added"`
	Removed  []string       `json:"removed"`
	Modified []PartChange   `json:"modified"`
	Stickers StickerChanges `json:"stickers"`
	Total    int            `json:"total_parts"`
}

// ModifiedPartNumbers 返回被修改的件号
func (s ChangeSummary) ModifiedPartNumbers() []string {
	out := make([]string, len(s.Modified))
	for i, m := range s.Modified {
		out[i] = m.PartNumber
	}
	return out
}

// ChangedPartNumbers 返回新增、删除、修改涉及的全部件号
func (s ChangeSummary) ChangedPartNumbers() []string {
	out := make([]string, 0, len(s.Added)+len(s.Removed)+len(s.Modified))
	out = append(out, s.Added...)
	out = append(out, s.Removed...)
	return append(out, s.ModifiedPartNumbers()...)
}

// PartChange 单个件号的字段变更
type PartChange struct {
	PartNumber string        `json:"part_number"`
	Changes    []FieldChange `json:"changes"`
}

// FieldChange 字段变更
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// StickerChanges 贴纸相关的子变更
type StickerChanges struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

const (
	ChangeSummaryInitial = "INITIAL"
	ChangeSummaryUpdate  = "UPDATE"
)
