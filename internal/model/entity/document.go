package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentType 文档类型
type DocumentType string

const (
	DocumentTypeIPD     DocumentType = "IPD"
	DocumentTypeDrawing DocumentType = "DRAWING"
)

// Valid 是否为已知文档类型
func (t DocumentType) Valid() bool {
	return t == DocumentTypeIPD || t == DocumentTypeDrawing
}

// Document 图解零件目录 / 工程图纸文档，创建后不可修改，通过新版本演进
type Document struct {
	ID             string       `json:"id" gorm:"primaryKey;size:32"`
	DocumentType   DocumentType `json:"document_type" gorm:"size:16;not null;index"`
	DocumentNumber string       `json:"document_number" gorm:"size:64;not null;uniqueIndex:idx_documents_number_revision"`
	Revision       string       `json:"revision" gorm:"size:32;not null;uniqueIndex:idx_documents_number_revision"`
	AircraftModel  string       `json:"aircraft_model" gorm:"size:64;not null;index"`
	Title          string       `json:"title" gorm:"size:256"`
	CreatedBy      string       `json:"created_by" gorm:"size:64"`
	CreatedAt      time.Time    `json:"created_at"`

	// 关联
	Head *ChainHead `json:"head,omitempty" gorm:"foreignKey:DocumentID"`
}

func (Document) TableName() string {
	return "documents"
}

// ChainHead 文档版本链的尾指针
//
// 追加版本时对 TailRevisionID 做 compare-and-swap，是同一文档唯一的写竞争点。
// 空字符串表示尚无版本。
type ChainHead struct {
	DocumentID     string    `json:"document_id" gorm:"primaryKey;size:32"`
	TailRevisionID string    `json:"tail_revision_id" gorm:"size:32;not null"`
	Version        int       `json:"version" gorm:"not null"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (ChainHead) TableName() string {
	return "revision_chain_heads"
}

// NewID 生成32位ID
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
