package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/engine"
	"github.com/bitfantasy/nimo-ipd/internal/events"
	"github.com/bitfantasy/nimo-ipd/internal/metrics"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/repository"
)

// RiskService 风险画像服务
type RiskService struct {
	repos  *repository.Repositories
	scorer *engine.Scorer
	opts   Options
}

// NewRiskService 创建风险画像服务
func NewRiskService(repos *repository.Repositories, scorer *engine.Scorer, opts Options) *RiskService {
	return &RiskService{repos: repos, scorer: scorer, opts: opts}
}

// Apply 把一次事件增量累加到件号画像
func (s *RiskService) Apply(ctx context.Context, ev events.Event) (*entity.RiskProfile, error) {
	if !ev.Type.Valid() {
		return nil, apperr.Validation("unknown risk event type %q", ev.Type)
	}
	pn := entity.NormalizePartNumber(ev.PartNumber)
	if pn == "" {
		return nil, apperr.Validation("risk event without part number")
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}

	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	p, err := s.repos.Risk.Update(opCtx, pn, func(p *entity.RiskProfile) {
		s.scorer.Apply(p, ev.Type, at)
	})
	if err != nil {
		return nil, fmt.Errorf("update risk profile: %w", err)
	}
	metrics.RiskUpdates.WithLabelValues(string(ev.Type)).Inc()
	return p, nil
}

// RiskView 画像及当前时刻衰减后的分数
type RiskView struct {
	*entity.RiskProfile
	CurrentScore      float64                `json:"current_score"`
	CurrentVolatility entity.VolatilityIndex `json:"current_volatility"`
}

func (s *RiskService) view(p *entity.RiskProfile, now time.Time) RiskView {
	score := s.scorer.ScoreAt(p, now)
	return RiskView{RiskProfile: p, CurrentScore: score, CurrentVolatility: s.scorer.Bucket(score)}
}

// Get 获取件号风险画像
func (s *RiskService) Get(ctx context.Context, partNumber string) (*RiskView, error) {
	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	p, err := s.repos.Risk.FindByPartNumber(opCtx, entity.NormalizePartNumber(partNumber))
	if err != nil {
		return nil, fmt.Errorf("get risk profile: %w", err)
	}
	v := s.view(p, time.Now())
	return &v, nil
}

// List 获取风险画像列表
func (s *RiskService) List(ctx context.Context, volatility string, page, pageSize int) ([]RiskView, int64, error) {
	vi := entity.VolatilityIndex(volatility)
	switch vi {
	case "", entity.VolatilityLow, entity.VolatilityMedium, entity.VolatilityHigh:
	default:
		return nil, 0, apperr.Validation("unknown volatility %q", volatility)
	}

	opCtx, cancel := withTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	profiles, total, err := s.repos.Risk.List(opCtx, vi, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list risk profiles: %w", err)
	}
	now := time.Now()
	views := make([]RiskView, len(profiles))
	for i := range profiles {
		views[i] = s.view(&profiles[i], now)
	}
	return views, total, nil
}
