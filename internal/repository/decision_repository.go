package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

// DecisionRepository 决策日志仓储
type DecisionRepository struct {
	db *gorm.DB
}

// NewDecisionRepository 创建决策日志仓储
func NewDecisionRepository(db *gorm.DB) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// DecisionFilter 决策日志查询条件
type DecisionFilter struct {
	UserID     string
	PartNumber string
	LineNumber *int
	OpenOnly   bool
}

// Create 追加决策
func (r *DecisionRepository) Create(ctx context.Context, e *entity.DecisionLogEntry) error {
	return r.db.WithContext(ctx).Create(e).Error
}

// FindByID 根据ID查找决策
func (r *DecisionRepository) FindByID(ctx context.Context, id string) (*entity.DecisionLogEntry, error) {
	var e entity.DecisionLogEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, notFound(err, "decision %s", id)
	}
	return &e, nil
}

// Close 关闭决策，已关闭时返回 ErrInvalidState
func (r *DecisionRepository) Close(ctx context.Context, id string, outcome entity.DecisionOutcome, note string, at time.Time) (*entity.DecisionLogEntry, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.DecisionLogEntry{}).
		Where("id = ? AND timestamp_close IS NULL", id).
		Updates(map[string]interface{}{
			"timestamp_close": at,
			"outcome":         outcome,
			"note":            note,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	e, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, apperr.InvalidState("decision %s already closed at %s", id, e.TimestampClose.Format(time.RFC3339))
	}
	return e, nil
}

// List 获取决策列表，按打开时间倒序
func (r *DecisionRepository) List(ctx context.Context, filter DecisionFilter, page, pageSize int) ([]entity.DecisionLogEntry, int64, error) {
	var entries []entity.DecisionLogEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.DecisionLogEntry{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.PartNumber != "" {
		query = query.Where("part_number = ?", filter.PartNumber)
	}
	if filter.LineNumber != nil {
		query = query.Where("line_number = ?", *filter.LineNumber)
	}
	if filter.OpenOnly {
		query = query.Where("timestamp_close IS NULL")
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("timestamp_open DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&entries).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, err
	}
	return entries, total, nil
}
