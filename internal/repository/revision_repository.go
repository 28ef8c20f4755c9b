package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

// RevisionRepository 版本仓储
type RevisionRepository struct {
	db *gorm.DB
}

// NewRevisionRepository 创建版本仓储
func NewRevisionRepository(db *gorm.DB) *RevisionRepository {
	return &RevisionRepository{db: db}
}

func preloadParts(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Parts", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		Preload("Parts.Sticker")
}

// FindByID 根据ID查找版本（不含零件）
func (r *RevisionRepository) FindByID(ctx context.Context, id string) (*entity.Revision, error) {
	var rev entity.Revision
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rev).Error
	if err != nil {
		return nil, notFound(err, "revision %s", id)
	}
	return &rev, nil
}

// FindWithParts 查找版本并按目录顺序加载零件
func (r *RevisionRepository) FindWithParts(ctx context.Context, id string) (*entity.Revision, error) {
	var rev entity.Revision
	err := preloadParts(r.db.WithContext(ctx)).Where("id = ?", id).First(&rev).Error
	if err != nil {
		return nil, notFound(err, "revision %s", id)
	}
	return &rev, nil
}

// ListByDocument 获取文档的全部版本（不含零件），按版本号排序
func (r *RevisionRepository) ListByDocument(ctx context.Context, documentID string) ([]entity.Revision, error) {
	var revs []entity.Revision
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("version ASC").
		Find(&revs).Error
	if err != nil {
		return nil, err
	}
	return revs, nil
}

// ListByDocumentWithParts 获取文档的全部版本并加载零件
func (r *RevisionRepository) ListByDocumentWithParts(ctx context.Context, documentID string) ([]entity.Revision, error) {
	var revs []entity.Revision
	err := preloadParts(r.db.WithContext(ctx)).
		Where("document_id = ?", documentID).
		Order("version ASC").
		Find(&revs).Error
	if err != nil {
		return nil, err
	}
	return revs, nil
}

// FindApproved 查找文档当前已批准版本（含零件）
//
// 单基线模式下最多一个；出现多个视为完整性故障。
func (r *RevisionRepository) FindApproved(ctx context.Context, documentID string) (*entity.Revision, error) {
	var revs []entity.Revision
	err := preloadParts(r.db.WithContext(ctx)).
		Where("document_id = ? AND status = ?", documentID, entity.RevisionStatusApproved).
		Limit(2).
		Find(&revs).Error
	if err != nil {
		return nil, err
	}
	switch len(revs) {
	case 0:
		return nil, apperr.NotFound("approved revision of document %s", documentID)
	case 1:
		return &revs[0], nil
	default:
		return nil, apperr.Invariant("document %s has more than one approved revision (%s, %s)", documentID, revs[0].ID, revs[1].ID)
	}
}

// Append 追加版本
//
// 在事务内对链头做 compare-and-swap：链尾不是 expectedPrevID 时返回 ErrConflict，链保持不变。
// 成功时写入 version、previous 链接，并把前一版本的 next 指向新版本。
// rev.Parts 与其贴纸随版本一起插入。
func (r *RevisionRepository) Append(ctx context.Context, rev *entity.Revision, expectedPrevID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head entity.ChainHead
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_id = ?", rev.DocumentID).
			First(&head).Error; err != nil {
			return notFound(err, "document %s", rev.DocumentID)
		}
		if head.TailRevisionID != expectedPrevID {
			return apperr.Conflict("document %s: expected tail %q, current tail %q", rev.DocumentID, expectedPrevID, head.TailRevisionID)
		}

		var dup int64
		if err := tx.Model(&entity.Revision{}).
			Where("document_id = ? AND revision = ?", rev.DocumentID, rev.Revision).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return apperr.Conflict("document %s already has revision %s", rev.DocumentID, rev.Revision)
		}

		now := time.Now()
		rev.Version = head.Version + 1
		rev.PreviousRevisionID = nil
		rev.NextRevisionID = nil
		if expectedPrevID != "" {
			prev := expectedPrevID
			rev.PreviousRevisionID = &prev
		}

		// compare-and-swap
		res := tx.Model(&entity.ChainHead{}).
			Where("document_id = ? AND tail_revision_id = ?", rev.DocumentID, expectedPrevID).
			Updates(map[string]interface{}{
				"tail_revision_id": rev.ID,
				"version":          rev.Version,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("document %s: tail moved during append", rev.DocumentID)
		}

		if err := tx.Create(rev).Error; err != nil {
			if isDuplicate(err) {
				return apperr.Conflict("document %s: revision %s or version %d already exists", rev.DocumentID, rev.Revision, rev.Version)
			}
			return err
		}

		if expectedPrevID != "" {
			res := tx.Model(&entity.Revision{}).
				Where("id = ? AND document_id = ? AND next_revision_id IS NULL", expectedPrevID, rev.DocumentID).
				Updates(map[string]interface{}{
					"next_revision_id": rev.ID,
					"updated_at":       now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperr.Invariant("document %s: tail %s already has a successor", rev.DocumentID, expectedPrevID)
			}
		}
		return nil
	})
}

// SetSnapshotObject 记录快照归档对象
func (r *RevisionRepository) SetSnapshotObject(ctx context.Context, id, key string) error {
	return r.db.WithContext(ctx).
		Model(&entity.Revision{}).
		Where("id = ?", id).
		Update("snapshot_object", key).Error
}

// Transition 条件更新状态，当前状态不是 from 时返回 ErrConflict
func (r *RevisionRepository) Transition(ctx context.Context, id string, from, to entity.RevisionStatus, fields map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&entity.Revision{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("revision %s is no longer %s", id, from)
	}
	return nil
}

// Approve 批准版本并在同一事务内替代此前的已批准版本，返回被替代的版本ID（可能为空）
func (r *RevisionRepository) Approve(ctx context.Context, id, approvedBy, comment string) (string, error) {
	var supersededID string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rev entity.Revision
		if err := tx.Where("id = ?", id).First(&rev).Error; err != nil {
			return notFound(err, "revision %s", id)
		}

		// 串行化同一文档的批准
		var head entity.ChainHead
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_id = ?", rev.DocumentID).
			First(&head).Error; err != nil {
			return notFound(err, "document %s", rev.DocumentID)
		}

		if rev.Status != entity.RevisionStatusUnderReview {
			return apperr.InvalidState("revision %s is %s, only under_review can be approved", id, rev.Status)
		}

		var approved []entity.Revision
		if err := tx.Where("document_id = ? AND status = ?", rev.DocumentID, entity.RevisionStatusApproved).
			Find(&approved).Error; err != nil {
			return err
		}
		if len(approved) > 1 {
			return apperr.Invariant("document %s has %d approved revisions", rev.DocumentID, len(approved))
		}

		now := time.Now()
		if len(approved) == 1 {
			cur := approved[0]
			if cur.Version > rev.Version {
				return apperr.InvalidState("revision %s (v%d) is older than approved revision %s (v%d)", id, rev.Version, cur.ID, cur.Version)
			}
			res := tx.Model(&entity.Revision{}).
				Where("id = ? AND status = ?", cur.ID, entity.RevisionStatusApproved).
				Updates(map[string]interface{}{
					"status":     entity.RevisionStatusSuperseded,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperr.Conflict("revision %s changed while approving %s", cur.ID, id)
			}
			supersededID = cur.ID
		}

		res := tx.Model(&entity.Revision{}).
			Where("id = ? AND status = ?", id, entity.RevisionStatusUnderReview).
			Updates(map[string]interface{}{
				"status":         entity.RevisionStatusApproved,
				"approved_by":    approvedBy,
				"approved_at":    now,
				"review_comment": comment,
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("revision %s changed while approving", id)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return supersededID, nil
}
