package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/events"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/repository"
)

// DecisionService 工程处置决策日志
type DecisionService struct {
	repos  *repository.Repositories
	pub    *publisher
	opts   Options
	logger *zap.Logger
}

// NewDecisionService 创建决策日志服务
func NewDecisionService(repos *repository.Repositories, pub *publisher, opts Options, logger *zap.Logger) *DecisionService {
	return &DecisionService{repos: repos, pub: pub, opts: opts, logger: logger}
}

// OpenDecisionRequest 打开决策请求
type OpenDecisionRequest struct {
	PartNumber string `json:"part_number" binding:"required"`
	LineNumber int    `json:"line_number" binding:"required"`
	Decision   string `json:"decision" binding:"required"`
}

// CloseDecisionRequest 关闭决策请求
type CloseDecisionRequest struct {
	Outcome string `json:"outcome" binding:"required"`
	Note    string `json:"note"`
}

// CloseDecisionResult 关闭结果
type CloseDecisionResult struct {
	Entry          *entity.DecisionLogEntry `json:"entry"`
	ResolvedDrifts int64                    `json:"resolved_drifts"`
}

// Open 追加决策
func (s *DecisionService) Open(ctx context.Context, userID string, req *OpenDecisionRequest) (*entity.DecisionLogEntry, error) {
	pn := entity.NormalizePartNumber(req.PartNumber)
	decision := strings.TrimSpace(req.Decision)
	if pn == "" || decision == "" {
		return nil, apperr.Validation("part_number and decision are required")
	}
	if req.LineNumber <= 0 {
		return nil, apperr.Validation("line_number must be a positive integer, got %d", req.LineNumber)
	}
	if userID == "" {
		return nil, apperr.Validation("user is required")
	}

	e := &entity.DecisionLogEntry{
		ID:            entity.NewID(),
		UserID:        userID,
		PartNumber:    pn,
		LineNumber:    req.LineNumber,
		Decision:      decision,
		TimestampOpen: time.Now(),
	}

	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	if err := s.repos.Decision.Create(opCtx, e); err != nil {
		return nil, fmt.Errorf("open decision: %w", err)
	}

	s.pub.publish(ctx, events.Event{
		ID:         entity.NewID(),
		Type:       events.TypeDecisionLogged,
		PartNumber: pn,
		LineNumber: req.LineNumber,
		OccurredAt: e.TimestampOpen,
	})
	return e, nil
}

// Close 关闭决策；结论为 accept_drift 时在同一事务内解决对应的 open 漂移
func (s *DecisionService) Close(ctx context.Context, id, userID string, req *CloseDecisionRequest) (*CloseDecisionResult, error) {
	outcome := entity.DecisionOutcome(strings.ToLower(strings.TrimSpace(req.Outcome)))
	if !outcome.Valid() {
		return nil, apperr.Validation("unknown outcome %q", req.Outcome)
	}

	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	result := &CloseDecisionResult{}
	err := s.repos.Transaction(opCtx, func(tx *repository.Repositories) error {
		e, err := tx.Decision.Close(opCtx, id, outcome, req.Note, time.Now())
		if err != nil {
			return err
		}
		result.Entry = e
		if outcome != entity.DecisionAcceptDrift {
			return nil
		}
		n, err := tx.Drift.ResolveOpen(opCtx, e.LineNumber, e.PartNumber, userID, "accepted by decision "+e.ID)
		if err != nil {
			return err
		}
		result.ResolvedDrifts = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("close decision: %w", err)
	}
	if result.ResolvedDrifts > 0 {
		s.logger.Info("drift accepted by decision",
			zap.String("decision_id", id),
			zap.String("part_number", result.Entry.PartNumber),
			zap.Int("line_number", result.Entry.LineNumber))
	}
	return result, nil
}

// Get 获取决策
func (s *DecisionService) Get(ctx context.Context, id string) (*entity.DecisionLogEntry, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	e, err := s.repos.Decision.FindByID(opCtx, id)
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}
	return e, nil
}

// List 查询决策日志
func (s *DecisionService) List(ctx context.Context, filter repository.DecisionFilter, page, pageSize int) ([]entity.DecisionLogEntry, int64, error) {
	filter.PartNumber = entity.NormalizePartNumber(filter.PartNumber)
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	entries, total, err := s.repos.Decision.List(opCtx, filter, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list decisions: %w", err)
	}
	return entries, total, nil
}
