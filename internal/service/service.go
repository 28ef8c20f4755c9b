package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ipd/internal/engine"
	"github.com/bitfantasy/nimo-ipd/internal/events"
	"github.com/bitfantasy/nimo-ipd/internal/metrics"
	"github.com/bitfantasy/nimo-ipd/internal/repository"
	"github.com/bitfantasy/nimo-ipd/internal/storage"
)

// Options 服务运行参数
type Options struct {
	OpTimeout          time.Duration
	AppendRetries      int
	ResolveConcurrency int
	// Notifier 可选，入队后同步推送给实时订阅者
	Notifier           Notifier
}

// Notifier 事件实时推送
type Notifier interface {
	Notify(ev events.Event)
}

func (o Options) withDefaults() Options {
	if o.OpTimeout <= 0 {
		o.OpTimeout = 5 * time.Second
	}
	if o.AppendRetries < 0 {
		o.AppendRetries = 0
	}
	if o.ResolveConcurrency <= 0 {
		o.ResolveConcurrency = 8
	}
	return o
}

// Services 服务集合
type Services struct {
	Document    *DocumentService
	Revision    *RevisionService
	Effectivity *EffectivityService
	Drift       *DriftService
	Risk        *RiskService
	Decision    *DecisionService
}

// NewServices 创建服务集合，archiver 可以为 nil（不归档快照）
func NewServices(repos *repository.Repositories, queue events.Queue, archiver storage.Archiver, scorer *engine.Scorer, opts Options, logger *zap.Logger) *Services {
	opts = opts.withDefaults()
	pub := &publisher{queue: queue, notifier: opts.Notifier, logger: logger}
	return &Services{
		Document:    NewDocumentService(repos, opts),
		Revision:    NewRevisionService(repos, pub, archiver, opts, logger),
		Effectivity: NewEffectivityService(repos, opts, logger),
		Drift:       NewDriftService(repos, pub, opts, logger),
		Risk:        NewRiskService(repos, scorer, opts),
		Decision:    NewDecisionService(repos, pub, opts, logger),
	}
}

// withTimeout 每次持久化调用使用显式超时
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// publisher 提交成功后投递风险事件
//
// 投递失败只记录日志，不回滚已提交的写入。
type publisher struct {
	queue    events.Queue
	notifier Notifier
	logger   *zap.Logger
}

func (p *publisher) publish(ctx context.Context, evs ...events.Event) {
	if p == nil || p.queue == nil {
		return
	}
	for _, ev := range evs {
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = time.Now()
		}
		if err := p.queue.Publish(ctx, ev); err != nil {
			metrics.QueueErrors.WithLabelValues("publish").Inc()
			p.logger.Error("publish risk event failed",
				zap.String("type", string(ev.Type)),
				zap.String("part_number", ev.PartNumber),
				zap.Error(err))
			continue
		}
		if p.notifier != nil {
			p.notifier.Notify(ev)
		}
	}
}
