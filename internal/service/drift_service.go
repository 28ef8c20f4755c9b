package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/engine"
	"github.com/bitfantasy/nimo-ipd/internal/events"
	"github.com/bitfantasy/nimo-ipd/internal/metrics"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/repository"
)

// DriftService 构型漂移检测服务，不修改版本和零件
type DriftService struct {
	repos  *repository.Repositories
	pub    *publisher
	opts   Options
	logger *zap.Logger
}

// NewDriftService 创建漂移检测服务
func NewDriftService(repos *repository.Repositories, pub *publisher, opts Options, logger *zap.Logger) *DriftService {
	return &DriftService{repos: repos, pub: pub, opts: opts, logger: logger}
}

// ObservationRequest 现场构型上报
type ObservationRequest struct {
	DocumentID    string `json:"document_id" binding:"required"`
	LineNumber    int    `json:"line_number" binding:"required"`
	PartNumber    string `json:"part_number" binding:"required"`
	ObservedValue string `json:"observed_value"`
}

// DriftCheckResult 上报检查结果
type DriftCheckResult struct {
	Drift              bool                      `json:"drift"`
	Created            bool                      `json:"created"`
	ExpectedRevisionID string                    `json:"expected_revision_id"`
	Record             *entity.ConfigDriftRecord `json:"record,omitempty"`
}

// Check 把上报件号与基线比较，不在基线中时幂等打开漂移记录
func (s *DriftService) Check(ctx context.Context, req *ObservationRequest) (*DriftCheckResult, error) {
	pn := entity.NormalizePartNumber(req.PartNumber)
	if pn == "" || strings.TrimSpace(req.DocumentID) == "" {
		return nil, apperr.Validation("document_id and part_number are required")
	}
	if req.LineNumber <= 0 {
		return nil, apperr.Validation("line_number must be a positive integer, got %d", req.LineNumber)
	}

	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	baseline, err := s.repos.Revision.FindApproved(opCtx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}
	expected := engine.PartNumberSet(engine.Resolve(baseline.Parts, req.LineNumber))
	if expected.Contains(pn) {
		metrics.DriftChecks.WithLabelValues("match").Inc()
		return &DriftCheckResult{ExpectedRevisionID: baseline.ID}, nil
	}

	observed := req.ObservedValue
	if observed == "" {
		observed = pn
	}
	rec, created, err := s.repos.Drift.OpenIfAbsent(opCtx, &entity.ConfigDriftRecord{
		ID:                 entity.NewID(),
		DocumentID:         req.DocumentID,
		LineNumber:         req.LineNumber,
		PartNumber:         pn,
		ExpectedRevisionID: baseline.ID,
		ObservedValue:      observed,
		DetectedAt:         time.Now(),
		Status:             entity.DriftStatusOpen,
	})
	if err != nil {
		return nil, fmt.Errorf("open drift: %w", err)
	}

	if created {
		metrics.DriftChecks.WithLabelValues("opened").Inc()
		s.logger.Info("config drift opened",
			zap.String("document_id", req.DocumentID),
			zap.Int("line_number", req.LineNumber),
			zap.String("part_number", pn),
			zap.String("expected_revision_id", baseline.ID))
		s.pub.publish(ctx, events.Event{
			ID:         entity.NewID(),
			Type:       events.TypeDriftOpened,
			PartNumber: pn,
			DocumentID: req.DocumentID,
			RevisionID: baseline.ID,
			LineNumber: req.LineNumber,
			OccurredAt: rec.DetectedAt,
		})
	} else {
		metrics.DriftChecks.WithLabelValues("existing").Inc()
	}

	return &DriftCheckResult{
		Drift:              true,
		Created:            created,
		ExpectedRevisionID: baseline.ID,
		Record:             rec,
	}, nil
}

// List 查询漂移记录
func (s *DriftService) List(ctx context.Context, filter repository.DriftFilter, page, pageSize int) ([]entity.ConfigDriftRecord, int64, error) {
	if filter.Status != "" && filter.Status != entity.DriftStatusOpen && filter.Status != entity.DriftStatusResolved {
		return nil, 0, apperr.Validation("unknown drift status %q", filter.Status)
	}
	filter.PartNumber = entity.NormalizePartNumber(filter.PartNumber)

	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	recs, total, err := s.repos.Drift.List(opCtx, filter, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list drifts: %w", err)
	}
	return recs, total, nil
}

// ResolveDriftRequest 解决漂移请求
type ResolveDriftRequest struct {
	Note string `json:"note"`
}

// Resolve 人工解决漂移记录
func (s *DriftService) Resolve(ctx context.Context, id, userID, note string) (*entity.ConfigDriftRecord, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	rec, err := s.repos.Drift.Resolve(opCtx, id, userID, note)
	if err != nil {
		return nil, fmt.Errorf("resolve drift: %w", err)
	}
	return rec, nil
}
