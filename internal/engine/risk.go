package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/bitfantasy/nimo-ipd/internal/events"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

// MaxRiskScore 风险分上限
const MaxRiskScore = 100.0

// RiskConfig 风险评分参数
type RiskConfig struct {
	Weights       map[events.Type]float64
	HalfLife      time.Duration
	LowThreshold  float64
	HighThreshold float64
}

// DefaultRiskConfig 默认参数：30天半衰期，30/70分档
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		Weights: map[events.Type]float64{
			events.TypeRevisionChange: 10,
			events.TypeDriftOpened:    25,
			events.TypeDecisionLogged: 5,
		},
		HalfLife:      720 * time.Hour,
		LowThreshold:  30,
		HighThreshold: 70,
	}
}

// Validate 校验参数
func (c RiskConfig) Validate() error {
	if c.LowThreshold < 0 || c.HighThreshold > MaxRiskScore || c.LowThreshold > c.HighThreshold {
		return fmt.Errorf("risk thresholds must satisfy 0 <= low <= high <= 100, got low=%v high=%v", c.LowThreshold, c.HighThreshold)
	}
	if c.HalfLife <= 0 {
		return fmt.Errorf("risk half life must be positive, got %s", c.HalfLife)
	}
	for t, w := range c.Weights {
		if !t.Valid() {
			return fmt.Errorf("unknown risk event type %q", t)
		}
		if w < 0 {
			return fmt.Errorf("risk weight for %s must be non-negative, got %v", t, w)
		}
	}
	return nil
}

// Scorer 指数衰减的滚动加权和
type Scorer struct {
	cfg RiskConfig
}

// NewScorer 创建评分器
func NewScorer(cfg RiskConfig) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Weight 事件权重，未配置的类型为0
func (s *Scorer) Weight(t events.Type) float64 {
	return s.cfg.Weights[t]
}

// decayed 衰减到 at 时刻的累计值；at 早于上次事件时不衰减
func (s *Scorer) decayed(p *entity.RiskProfile, at time.Time) float64 {
	if p.LastEventAt == nil {
		return p.Accumulator
	}
	dt := at.Sub(*p.LastEventAt)
	if dt <= 0 {
		return p.Accumulator
	}
	return p.Accumulator * math.Exp2(-dt.Seconds()/s.cfg.HalfLife.Seconds())
}

// ScoreAt 不修改画像，计算 at 时刻的风险分
func (s *Scorer) ScoreAt(p *entity.RiskProfile, at time.Time) float64 {
	return clamp(s.decayed(p, at))
}

// Apply 把一次事件累加到画像上
//
// 加入事件后的分数不低于加入前同一时刻的分数。
func (s *Scorer) Apply(p *entity.RiskProfile, t events.Type, at time.Time) {
	acc := clamp(s.decayed(p, at) + s.Weight(t))
	p.Accumulator = acc
	p.RiskScore = acc
	p.VolatilityIndex = s.Bucket(acc)
	if p.LastEventAt == nil || at.After(*p.LastEventAt) {
		ts := at
		p.LastEventAt = &ts
	}
	if at.After(p.LastReviewed) {
		p.LastReviewed = at
	}
	switch t {
	case events.TypeRevisionChange:
		p.RevisionChanges++
	case events.TypeDriftOpened:
		p.DriftEvents++
	case events.TypeDecisionLogged:
		p.Decisions++
	}
}

// Bucket 分档：低于 low 为 Low，高于 high 为 High，其余（含边界）为 Medium
func (s *Scorer) Bucket(score float64) entity.VolatilityIndex {
	switch {
	case score < s.cfg.LowThreshold:
		return entity.VolatilityLow
	case score > s.cfg.HighThreshold:
		return entity.VolatilityHigh
	default:
		return entity.VolatilityMedium
	}
}

func clamp(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > MaxRiskScore {
		return MaxRiskScore
	}
	return v
}
