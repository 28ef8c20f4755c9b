package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

// DocumentRepository 文档仓储
type DocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建文档仓储
func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create 创建文档，同时初始化空的版本链头
func (r *DocumentRepository) Create(ctx context.Context, doc *entity.Document) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&entity.Document{}).
			Where("document_number = ? AND revision = ?", doc.DocumentNumber, doc.Revision).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperr.Validation("document %s revision %s already exists", doc.DocumentNumber, doc.Revision)
		}

		head := doc.Head
		doc.Head = nil
		if err := tx.Create(doc).Error; err != nil {
			if isDuplicate(err) {
				return apperr.Validation("document %s revision %s already exists", doc.DocumentNumber, doc.Revision)
			}
			return err
		}
		if head == nil {
			head = &entity.ChainHead{}
		}
		head.DocumentID = doc.ID
		head.TailRevisionID = ""
		head.Version = 0
		if err := tx.Create(head).Error; err != nil {
			return err
		}
		doc.Head = head
		return nil
	})
}

// FindByID 根据ID查找文档
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*entity.Document, error) {
	var doc entity.Document
	err := r.db.WithContext(ctx).
		Preload("Head").
		Where("id = ?", id).
		First(&doc).Error
	if err != nil {
		return nil, notFound(err, "document %s", id)
	}
	return &doc, nil
}

// FindHead 查找文档版本链头
func (r *DocumentRepository) FindHead(ctx context.Context, documentID string) (*entity.ChainHead, error) {
	var head entity.ChainHead
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		First(&head).Error
	if err != nil {
		return nil, notFound(err, "document %s", documentID)
	}
	return &head, nil
}

// List 获取文档列表
func (r *DocumentRepository) List(ctx context.Context, page, pageSize int, filters map[string]interface{}) ([]entity.Document, int64, error) {
	var docs []entity.Document
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Document{})

	// 应用过滤条件
	if keyword, ok := filters["keyword"].(string); ok && keyword != "" {
		like := "%" + strings.ToLower(keyword) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(document_number) LIKE ?", like, like)
	}
	if docType, ok := filters["document_type"].(string); ok && docType != "" {
		query = query.Where("document_type = ?", docType)
	}
	if model, ok := filters["aircraft_model"].(string); ok && model != "" {
		query = query.Where("aircraft_model = ?", model)
	}

	// 统计总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * pageSize
	err := query.
		Preload("Head").
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}

	return docs, total, nil
}

// ListByAircraftModel 获取某机型的全部文档
func (r *DocumentRepository) ListByAircraftModel(ctx context.Context, aircraftModel string) ([]entity.Document, error) {
	var docs []entity.Document
	err := r.db.WithContext(ctx).
		Where("aircraft_model = ?", aircraftModel).
		Order("document_number ASC").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}
