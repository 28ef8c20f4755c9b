// Package events carries revision, drift and decision events from the write
// paths to the risk scorer. Producers never touch risk state directly.
package events

import (
	"context"
	"errors"
	"time"
)

// Type 事件类型
type Type string

const (
	TypeRevisionChange Type = "RevisionChange"
	TypeDriftOpened    Type = "DriftOpened"
	TypeDecisionLogged Type = "DecisionLogged"
)

// Valid 是否为已知事件类型
func (t Type) Valid() bool {
	switch t {
	case TypeRevisionChange, TypeDriftOpened, TypeDecisionLogged:
		return true
	}
	return false
}

// Event 单个件号上的一次风险相关事件
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	PartNumber string    `json:"part_number"`
	DocumentID string    `json:"document_id,omitempty"`
	RevisionID string    `json:"revision_id,omitempty"`
	LineNumber int       `json:"line_number,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	// Attempts 已失败的处理次数
	Attempts   int       `json:"attempts,omitempty"`
}

// ErrClosed 队列已关闭
var ErrClosed = errors.New("queue closed")

// Queue 事件队列
type Queue interface {
	// Publish 投递事件，队列满时阻塞直到 ctx 结束
	Publish(ctx context.Context, ev Event) error
	// Consume 阻塞等待下一个事件
	Consume(ctx context.Context) (Event, error)
	// Len 当前积压数量
	Len(ctx context.Context) (int64, error)
	// DeadLetter 保存多次处理失败的事件，不再自动消费
	DeadLetter(ctx context.Context, ev Event) error
	Close() error
}
