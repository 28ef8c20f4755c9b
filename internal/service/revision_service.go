package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/engine"
	"github.com/bitfantasy/nimo-ipd/internal/events"
	"github.com/bitfantasy/nimo-ipd/internal/metrics"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/repository"
	"github.com/bitfantasy/nimo-ipd/internal/storage"
)

// RevisionService 版本链服务
type RevisionService struct {
	repos    *repository.Repositories
	pub      *publisher
	archiver storage.Archiver
	opts     Options
	logger   *zap.Logger
}

// NewRevisionService 创建版本链服务
func NewRevisionService(repos *repository.Repositories, pub *publisher, archiver storage.Archiver, opts Options, logger *zap.Logger) *RevisionService {
	return &RevisionService{repos: repos, pub: pub, archiver: archiver, opts: opts, logger: logger}
}

// EffectivityInput 有效性输入
type EffectivityInput struct {
	Type   string `json:"type"`
	Values []int  `json:"values,omitempty"`
	From   *int   `json:"from,omitempty"`
	To     *int   `json:"to,omitempty"`
}

// StickerInput 贴纸输入
type StickerInput struct {
	StickerType string `json:"sticker_type"`
	Material    string `json:"material"`
	Color       string `json:"color"`
	Dimensions  struct {
		Width     *float64 `json:"width"`
		Height    *float64 `json:"height"`
		Thickness *float64 `json:"thickness"`
	} `json:"dimensions"`
	Text string `json:"text"`
	Font struct {
		Family string   `json:"family"`
		Size   *float64 `json:"size"`
		Style  string   `json:"style"`
	} `json:"font"`
}

// PartInput 零件输入
type PartInput struct {
	PartNumber   string            `json:"part_number"`
	Nomenclature string            `json:"nomenclature"`
	Figure       string            `json:"figure"`
	Item         string            `json:"item"`
	SupplierCode string            `json:"supplier_code"`
	UPA          *int              `json:"upa"`
	SBReference  string            `json:"sb_reference"`
	Effectivity  *EffectivityInput `json:"effectivity"`
	IsSticker    bool              `json:"is_sticker"`
	Sticker      *StickerInput     `json:"sticker"`
}

// IngestRevisionRequest 追加版本请求
type IngestRevisionRequest struct {
	Revision                   string      `json:"revision" binding:"required"`
	ExpectedPreviousRevisionID string      `json:"expected_previous_revision_id"`
	IssueDate                  *time.Time  `json:"issue_date"`
	Parts                      []PartInput `json:"parts"`
}

// buildParts 校验并转换零件，任何一条不合法都在写入前拒绝
func buildParts(inputs []PartInput) ([]entity.RevisionPart, error) {
	parts := make([]entity.RevisionPart, 0, len(inputs))
	for i, in := range inputs {
		pn := entity.NormalizePartNumber(in.PartNumber)
		if pn == "" {
			return nil, apperr.Validation("parts[%d]: part_number is required", i)
		}

		var eff entity.Effectivity
		if in.Effectivity != nil {
			var err error
			eff, err = entity.ParseEffectivity(entity.EffectivityType(in.Effectivity.Type), in.Effectivity.Values, in.Effectivity.From, in.Effectivity.To)
			if err != nil {
				return nil, fmt.Errorf("parts[%d] %s: %w", i, pn, err)
			}
		}

		p := entity.RevisionPart{
			ID:           entity.NewID(),
			Seq:          i,
			PartNumber:   pn,
			Nomenclature: strings.TrimSpace(in.Nomenclature),
			Figure:       strings.TrimSpace(in.Figure),
			Item:         strings.TrimSpace(in.Item),
			SupplierCode: strings.TrimSpace(in.SupplierCode),
			UPA:          in.UPA,
			SBReference:  strings.TrimSpace(in.SBReference),
			Effectivity:  eff,
		}

		switch {
		case in.Sticker != nil && !in.IsSticker:
			return nil, apperr.Validation("parts[%d] %s: sticker fields require is_sticker", i, pn)
		case in.IsSticker && in.Sticker == nil:
			return nil, apperr.Validation("parts[%d] %s: is_sticker requires sticker fields", i, pn)
		case in.Sticker != nil:
			st := entity.StickerType(strings.ToUpper(strings.TrimSpace(in.Sticker.StickerType)))
			if !st.Valid() {
				return nil, apperr.Validation("parts[%d] %s: unknown sticker_type %q", i, pn, in.Sticker.StickerType)
			}
			p.Sticker = &entity.PartSticker{
				ID:          entity.NewID(),
				PartID:      p.ID,
				StickerType: st,
				Material:    strings.TrimSpace(in.Sticker.Material),
				Color:       strings.TrimSpace(in.Sticker.Color),
				Width:       in.Sticker.Dimensions.Width,
				Height:      in.Sticker.Dimensions.Height,
				Thickness:   in.Sticker.Dimensions.Thickness,
				Text:        in.Sticker.Text,
				FontFamily:  in.Sticker.Font.Family,
				FontSize:    in.Sticker.Font.Size,
				FontStyle:   in.Sticker.Font.Style,
			}
			p.IsSticker = true
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// Ingest 追加版本
//
// ExpectedPreviousRevisionID 为空表示创建链首；与当前链尾不一致时返回 ErrConflict。
func (s *RevisionService) Ingest(ctx context.Context, documentID, userID string, req *IngestRevisionRequest) (*entity.Revision, error) {
	label := strings.TrimSpace(req.Revision)
	if label == "" {
		return nil, apperr.Validation("revision label is required")
	}
	parts, err := buildParts(req.Parts)
	if err != nil {
		metrics.RevisionAppends.WithLabelValues("invalid").Inc()
		return nil, err
	}

	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	if _, err := s.repos.Document.FindByID(opCtx, documentID); err != nil {
		return nil, fmt.Errorf("ingest revision: %w", err)
	}

	summary := engine.InitialSummary(parts)
	if req.ExpectedPreviousRevisionID != "" {
		prev, err := s.repos.Revision.FindWithParts(opCtx, req.ExpectedPreviousRevisionID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, apperr.Conflict("expected previous revision %s does not exist", req.ExpectedPreviousRevisionID)
			}
			return nil, fmt.Errorf("load previous revision: %w", err)
		}
		if prev.DocumentID != documentID {
			return nil, apperr.Validation("revision %s belongs to document %s", prev.ID, prev.DocumentID)
		}
		summary = engine.Diff(prev.Parts, parts)
	}

	data, hash, err := snapshot(parts)
	if err != nil {
		return nil, err
	}

	rev := &entity.Revision{
		ID:            entity.NewID(),
		DocumentID:    documentID,
		Revision:      label,
		Status:        entity.RevisionStatusDraft,
		PartCount:     len(parts),
		SnapshotHash:  hash,
		IssueDate:     req.IssueDate,
		CreatedBy:     userID,
		ChangeSummary: datatypes.NewJSONType(summary),
		Parts:         parts,
	}

	if err := s.repos.Revision.Append(opCtx, rev, req.ExpectedPreviousRevisionID); err != nil {
		switch {
		case errors.Is(err, apperr.ErrConflict):
			metrics.RevisionAppends.WithLabelValues("conflict").Inc()
			s.logger.Warn("revision append conflict",
				zap.String("document_id", documentID),
				zap.String("expected_previous", req.ExpectedPreviousRevisionID),
				zap.Error(err))
		case errors.Is(err, apperr.ErrValidation):
			metrics.RevisionAppends.WithLabelValues("invalid").Inc()
		case errors.Is(err, apperr.ErrInvariantViolation):
			metrics.InvariantViolations.Inc()
			s.logger.Error("revision chain invariant violated on append",
				zap.String("document_id", documentID), zap.Error(err))
		default:
			metrics.RevisionAppends.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("append revision: %w", err)
	}
	metrics.RevisionAppends.WithLabelValues("ok").Inc()

	// 只归档已提交的版本
	s.archiveSnapshot(opCtx, rev, data)

	if summary.Type == entity.ChangeSummaryUpdate {
		now := time.Now()
		var evs []events.Event
		for _, pn := range summary.ChangedPartNumbers() {
			evs = append(evs, events.Event{
				ID:         entity.NewID(),
				Type:       events.TypeRevisionChange,
				PartNumber: pn,
				DocumentID: documentID,
				RevisionID: rev.ID,
				OccurredAt: now,
			})
		}
		s.pub.publish(ctx, evs...)
	}
	return rev, nil
}

// archiveSnapshot 归档零件快照；失败只记录，版本已提交
func (s *RevisionService) archiveSnapshot(ctx context.Context, rev *entity.Revision, data []byte) {
	if s.archiver == nil {
		return
	}
	key := snapshotKey(rev.DocumentID, rev.Revision, rev.SnapshotHash)
	err := s.archiver.Put(ctx, key, data)
	if err == nil {
		err = s.repos.Revision.SetSnapshotObject(ctx, rev.ID, key)
	}
	if err != nil {
		metrics.SnapshotArchiveErrors.Inc()
		s.logger.Error("archive revision snapshot failed",
			zap.String("revision_id", rev.ID),
			zap.String("key", key),
			zap.Error(err))
		return
	}
	rev.SnapshotObject = key
}

// IngestWithRetry 冲突时重新读取链尾后重试
//
// 用于批量导入：调用方不关心基于哪个链尾，只要求追加到最新版本之后。
func (s *RevisionService) IngestWithRetry(ctx context.Context, documentID, userID string, req *IngestRevisionRequest) (*entity.Revision, error) {
	var rev *entity.Revision
	err := RetryOnConflict(ctx, s.opts.AppendRetries, func(attempt int) error {
		opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
		head, err := s.repos.Document.FindHead(opCtx, documentID)
		cancel()
		if err != nil {
			return err
		}
		attemptReq := *req
		attemptReq.ExpectedPreviousRevisionID = head.TailRevisionID
		if attempt > 0 {
			s.logger.Info("retrying revision append",
				zap.String("document_id", documentID),
				zap.Int("attempt", attempt),
				zap.String("tail", head.TailRevisionID))
		}
		rev, err = s.Ingest(ctx, documentID, userID, &attemptReq)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

// Get 获取版本
func (s *RevisionService) Get(ctx context.Context, id string, withParts bool) (*entity.Revision, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	var (
		rev *entity.Revision
		err error
	)
	if withParts {
		rev, err = s.repos.Revision.FindWithParts(opCtx, id)
	} else {
		rev, err = s.repos.Revision.FindByID(opCtx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get revision: %w", err)
	}
	return rev, nil
}

// ReviewRequest 审核请求
type ReviewRequest struct {
	Comment string `json:"comment"`
}

// Submit 提交审核 draft → under_review
func (s *RevisionService) Submit(ctx context.Context, id, userID string) (*entity.Revision, error) {
	return s.transition(ctx, id, entity.RevisionStatusUnderReview, nil)
}

// Reject 驳回，只允许 draft / under_review
func (s *RevisionService) Reject(ctx context.Context, id, userID, comment string) (*entity.Revision, error) {
	return s.transition(ctx, id, entity.RevisionStatusRejected, map[string]interface{}{
		"review_comment": comment,
	})
}

func (s *RevisionService) transition(ctx context.Context, id string, to entity.RevisionStatus, fields map[string]interface{}) (*entity.Revision, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	rev, err := s.repos.Revision.FindByID(opCtx, id)
	if err != nil {
		return nil, fmt.Errorf("load revision: %w", err)
	}
	if !engine.CanTransition(rev.Status, to) {
		return nil, apperr.InvalidState("revision %s cannot move from %s to %s", id, rev.Status, to)
	}
	if err := s.repos.Revision.Transition(opCtx, id, rev.Status, to, fields); err != nil {
		return nil, fmt.Errorf("transition revision: %w", err)
	}
	metrics.RevisionTransitions.WithLabelValues(string(to)).Inc()
	return s.repos.Revision.FindByID(opCtx, id)
}

// Approve 批准版本，同一事务内替代此前的已批准版本
func (s *RevisionService) Approve(ctx context.Context, id, userID, comment string) (*entity.Revision, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	superseded, err := s.repos.Revision.Approve(opCtx, id, userID, comment)
	if err != nil {
		if errors.Is(err, apperr.ErrInvariantViolation) {
			metrics.InvariantViolations.Inc()
			s.logger.Error("multiple approved revisions", zap.String("revision_id", id), zap.Error(err))
		}
		return nil, fmt.Errorf("approve revision: %w", err)
	}
	metrics.RevisionTransitions.WithLabelValues(string(entity.RevisionStatusApproved)).Inc()
	if superseded != "" {
		metrics.RevisionTransitions.WithLabelValues(string(entity.RevisionStatusSuperseded)).Inc()
		s.logger.Info("revision superseded",
			zap.String("revision_id", superseded),
			zap.String("by", id))
	}
	return s.repos.Revision.FindByID(opCtx, id)
}

// loadArena 加载文档全部版本，withParts 时同时加载零件
func (s *RevisionService) loadArena(ctx context.Context, documentID string, withParts bool) (engine.Arena, error) {
	var (
		revs []entity.Revision
		err  error
	)
	if withParts {
		revs, err = s.repos.Revision.ListByDocumentWithParts(ctx, documentID)
	} else {
		revs, err = s.repos.Revision.ListByDocument(ctx, documentID)
	}
	if err != nil {
		return nil, err
	}
	return engine.NewArena(revs), nil
}

// invariant 记录并返回完整性故障
func (s *RevisionService) invariant(documentID string, err error) error {
	if errors.Is(err, apperr.ErrInvariantViolation) {
		metrics.InvariantViolations.Inc()
		s.logger.Error("revision chain invariant violated",
			zap.String("document_id", documentID),
			zap.Error(err))
	}
	return err
}

// RevisionNode 版本图节点
type RevisionNode struct {
	ID          string                `json:"id"`
	Revision    string                `json:"revision"`
	Version     int                   `json:"version"`
	Status      entity.RevisionStatus `json:"status"`
	PartCount   int                   `json:"part_count"`
	HasPrevious bool                  `json:"has_previous"`
	HasNext     bool                  `json:"has_next"`
	ChangeType  string                `json:"change_type"`
	CreatedAt   time.Time             `json:"created_at"`
}

// ListChain 返回 root → tail 顺序的版本图
func (s *RevisionService) ListChain(ctx context.Context, documentID string) ([]RevisionNode, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	if _, err := s.repos.Document.FindHead(opCtx, documentID); err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	arena, err := s.loadArena(opCtx, documentID, false)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	chain, err := engine.Ordered(arena)
	if err != nil {
		return nil, s.invariant(documentID, err)
	}
	nodes := make([]RevisionNode, 0, len(chain))
	for _, r := range chain {
		nodes = append(nodes, RevisionNode{
			ID:          r.ID,
			Revision:    r.Revision,
			Version:     r.Version,
			Status:      r.Status,
			PartCount:   r.PartCount,
			HasPrevious: r.PreviousRevisionID != nil,
			HasNext:     r.NextRevisionID != nil,
			ChangeType:  r.ChangeSummary.Data().Type,
			CreatedAt:   r.CreatedAt,
		})
	}
	return nodes, nil
}

// History 从指定版本回溯到链首
func (s *RevisionService) History(ctx context.Context, revisionID string) ([]*entity.Revision, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	rev, err := s.repos.Revision.FindByID(opCtx, revisionID)
	if err != nil {
		return nil, fmt.Errorf("revision history: %w", err)
	}
	arena, err := s.loadArena(opCtx, rev.DocumentID, false)
	if err != nil {
		return nil, fmt.Errorf("revision history: %w", err)
	}
	path, err := engine.TraverseToRoot(arena, revisionID)
	if err != nil {
		return nil, s.invariant(rev.DocumentID, err)
	}
	return path, nil
}

// DiffResult 两个版本的差异
type DiffResult struct {
	From    *entity.Revision     `json:"from"`
	To      *entity.Revision     `json:"to"`
	Summary entity.ChangeSummary `json:"summary"`
}

// Diff 比较任意两个版本
func (s *RevisionService) Diff(ctx context.Context, fromID, toID string) (*DiffResult, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	from, err := s.repos.Revision.FindWithParts(opCtx, fromID)
	if err != nil {
		return nil, fmt.Errorf("load from revision: %w", err)
	}
	to, err := s.repos.Revision.FindWithParts(opCtx, toID)
	if err != nil {
		return nil, fmt.Errorf("load to revision: %w", err)
	}
	summary := engine.Diff(from.Parts, to.Parts)
	from.Parts, to.Parts = nil, nil
	return &DiffResult{From: from, To: to, Summary: summary}, nil
}

// ChainReport 版本链一致性检查结果
type ChainReport struct {
	DocumentID string   `json:"document_id"`
	Revisions  int      `json:"revisions"`
	TailID     string   `json:"tail_revision_id"`
	Consistent bool     `json:"consistent"`
	Issues     []string `json:"issues"`
}

// Verify 检查版本链一致性；存在问题时同时返回 ErrInvariantViolation
func (s *RevisionService) Verify(ctx context.Context, documentID string) (*ChainReport, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	head, err := s.repos.Document.FindHead(opCtx, documentID)
	if err != nil {
		return nil, fmt.Errorf("verify chain: %w", err)
	}
	arena, err := s.loadArena(opCtx, documentID, false)
	if err != nil {
		return nil, fmt.Errorf("verify chain: %w", err)
	}
	issues := engine.Verify(arena, head)
	report := &ChainReport{
		DocumentID: documentID,
		Revisions:  len(arena),
		TailID:     head.TailRevisionID,
		Consistent: len(issues) == 0,
		Issues:     issues,
	}
	if report.Issues == nil {
		report.Issues = []string{}
	}
	if !report.Consistent {
		return report, s.invariant(documentID, apperr.Invariant("document %s: %d chain issues: %s", documentID, len(issues), strings.Join(issues, "; ")))
	}
	return report, nil
}

// Lineage 追踪件号在全部版本中的变化
func (s *RevisionService) Lineage(ctx context.Context, documentID, partNumber string) ([]engine.LineageEntry, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	if _, err := s.repos.Document.FindHead(opCtx, documentID); err != nil {
		return nil, fmt.Errorf("part lineage: %w", err)
	}
	arena, err := s.loadArena(opCtx, documentID, true)
	if err != nil {
		return nil, fmt.Errorf("part lineage: %w", err)
	}
	chain, err := engine.Ordered(arena)
	if err != nil {
		return nil, s.invariant(documentID, err)
	}
	return engine.Lineage(chain, entity.NormalizePartNumber(partNumber)), nil
}
