package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
)

// 错误定义
var (
	ErrNotFound = apperr.ErrNotFound
)

// Repositories 仓库集合
type Repositories struct {
	db       *gorm.DB
	Document *DocumentRepository
	Revision *RevisionRepository
	Drift    *DriftRepository
	Risk     *RiskRepository
	Decision *DecisionRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:       db,
		Document: NewDocumentRepository(db),
		Revision: NewRevisionRepository(db),
		Drift:    NewDriftRepository(db),
		Risk:     NewRiskRepository(db),
		Decision: NewDecisionRepository(db),
	}
}

// DB 返回底层连接
func (r *Repositories) DB() *gorm.DB {
	return r.db
}

// Transaction 在同一事务内使用全部仓库
func (r *Repositories) Transaction(ctx context.Context, fn func(tx *Repositories) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}

// notFound 把 gorm.ErrRecordNotFound 翻译为带上下文的 ErrNotFound
func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}

// isDuplicate 唯一约束冲突（需要开启 TranslateError）
func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
