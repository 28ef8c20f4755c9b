package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

// RiskRepository 风险画像仓储
type RiskRepository struct {
	db *gorm.DB
}

// NewRiskRepository 创建风险画像仓储
func NewRiskRepository(db *gorm.DB) *RiskRepository {
	return &RiskRepository{db: db}
}

// FindByPartNumber 根据件号查找风险画像
func (r *RiskRepository) FindByPartNumber(ctx context.Context, partNumber string) (*entity.RiskProfile, error) {
	var p entity.RiskProfile
	if err := r.db.WithContext(ctx).Where("part_number = ?", partNumber).First(&p).Error; err != nil {
		return nil, notFound(err, "risk profile %s", partNumber)
	}
	return &p, nil
}

// Update 读取（不存在则新建）画像，交给 fn 修改后写回
func (r *RiskRepository) Update(ctx context.Context, partNumber string, fn func(p *entity.RiskProfile)) (*entity.RiskProfile, error) {
	var p entity.RiskProfile
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("part_number = ?", partNumber).
			First(&p).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p = entity.RiskProfile{PartNumber: partNumber, VolatilityIndex: entity.VolatilityLow}
		}
		fn(&p)
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&p).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// List 获取风险画像列表，按分数降序
func (r *RiskRepository) List(ctx context.Context, volatility entity.VolatilityIndex, page, pageSize int) ([]entity.RiskProfile, int64, error) {
	var profiles []entity.RiskProfile
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.RiskProfile{})
	if volatility != "" {
		query = query.Where("volatility_index = ?", volatility)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("risk_score DESC, part_number ASC").
		Offset(offset).
		Limit(pageSize).
		Find(&profiles).Error
	if err != nil {
		return nil, 0, err
	}
	return profiles, total, nil
}
