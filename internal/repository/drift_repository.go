package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

// DriftRepository 构型漂移仓储
type DriftRepository struct {
	db *gorm.DB
}

// NewDriftRepository 创建漂移仓储
func NewDriftRepository(db *gorm.DB) *DriftRepository {
	return &DriftRepository{db: db}
}

// DriftFilter 漂移记录查询条件
type DriftFilter struct {
	LineNumber *int
	PartNumber string
	DocumentID string
	Status     entity.DriftStatus
}

// OpenIfAbsent 幂等打开漂移记录
//
// 同一 (line_number, part_number) 已有 open 记录时返回已有记录，created 为 false。
func (r *DriftRepository) OpenIfAbsent(ctx context.Context, rec *entity.ConfigDriftRecord) (*entity.ConfigDriftRecord, bool, error) {
	var out *entity.ConfigDriftRecord
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			out, created = rec, true
			return nil
		}
		var existing entity.ConfigDriftRecord
		if err := tx.Where("line_number = ? AND part_number = ? AND status = ?", rec.LineNumber, rec.PartNumber, entity.DriftStatusOpen).
			First(&existing).Error; err != nil {
			return notFound(err, "open drift for line %d part %s", rec.LineNumber, rec.PartNumber)
		}
		out = &existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// FindByID 根据ID查找漂移记录
func (r *DriftRepository) FindByID(ctx context.Context, id string) (*entity.ConfigDriftRecord, error) {
	var rec entity.ConfigDriftRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, notFound(err, "drift record %s", id)
	}
	return &rec, nil
}

// List 获取漂移记录列表
func (r *DriftRepository) List(ctx context.Context, filter DriftFilter, page, pageSize int) ([]entity.ConfigDriftRecord, int64, error) {
	var recs []entity.ConfigDriftRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ConfigDriftRecord{})
	if filter.LineNumber != nil {
		query = query.Where("line_number = ?", *filter.LineNumber)
	}
	if filter.PartNumber != "" {
		query = query.Where("part_number = ?", filter.PartNumber)
	}
	if filter.DocumentID != "" {
		query = query.Where("document_id = ?", filter.DocumentID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("line_number ASC, detected_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&recs).Error
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// Resolve 解决漂移记录，只允许 open → resolved
func (r *DriftRepository) Resolve(ctx context.Context, id, resolvedBy, note string) (*entity.ConfigDriftRecord, error) {
	var out entity.ConfigDriftRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&out).Error; err != nil {
			return notFound(err, "drift record %s", id)
		}
		if out.Status != entity.DriftStatusOpen {
			return apperr.InvalidState("drift record %s is already %s", id, out.Status)
		}
		now := time.Now()
		res := tx.Model(&entity.ConfigDriftRecord{}).
			Where("id = ? AND status = ?", id, entity.DriftStatusOpen).
			Updates(map[string]interface{}{
				"status":          entity.DriftStatusResolved,
				"resolved_at":     now,
				"resolved_by":     resolvedBy,
				"resolution_note": note,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.InvalidState("drift record %s is no longer open", id)
		}
		out.Status = entity.DriftStatusResolved
		out.ResolvedAt = &now
		out.ResolvedBy = resolvedBy
		out.ResolutionNote = note
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveOpen 解决指定 (line, part) 上的 open 记录，返回受影响条数
func (r *DriftRepository) ResolveOpen(ctx context.Context, lineNumber int, partNumber, resolvedBy, note string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&entity.ConfigDriftRecord{}).
		Where("line_number = ? AND part_number = ? AND status = ?", lineNumber, partNumber, entity.DriftStatusOpen).
		Updates(map[string]interface{}{
			"status":          entity.DriftStatusResolved,
			"resolved_at":     time.Now(),
			"resolved_by":     resolvedBy,
			"resolution_note": note,
		})
	return res.RowsAffected, res.Error
}
