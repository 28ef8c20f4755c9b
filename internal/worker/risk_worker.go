// Package worker 消费风险事件队列
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ipd/internal/apperr"
	"github.com/bitfantasy/nimo-ipd/internal/events"
	"github.com/bitfantasy/nimo-ipd/internal/metrics"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

// RiskApplier 把事件应用到风险画像
type RiskApplier interface {
	Apply(ctx context.Context, ev events.Event) (*entity.RiskProfile, error)
}

const (
	defaultMaxAttempts  = 5
	defaultRetryBackoff = time.Second
	requeueTimeout      = 5 * time.Second
)

// RiskWorker 单消费者，同一件号的更新按队列顺序串行执行
//
// 非校验类失败（数据库超时、连接中断）重新入队，超过 maxAttempts 次转入死信。
type RiskWorker struct {
	queue        events.Queue
	applier      RiskApplier
	logger       *zap.Logger
	maxAttempts  int
	retryBackoff time.Duration
}

// NewRiskWorker 创建风险事件消费者
func NewRiskWorker(queue events.Queue, applier RiskApplier, logger *zap.Logger) *RiskWorker {
	return &RiskWorker{
		queue:        queue,
		applier:      applier,
		logger:       logger,
		maxAttempts:  defaultMaxAttempts,
		retryBackoff: defaultRetryBackoff,
	}
}

// WithRetry 设置重试次数和退避基数，非正值保持默认
func (w *RiskWorker) WithRetry(maxAttempts int, backoff time.Duration) *RiskWorker {
	if maxAttempts > 0 {
		w.maxAttempts = maxAttempts
	}
	if backoff >= 0 {
		w.retryBackoff = backoff
	}
	return w
}

// Run 持续消费直到 ctx 结束或队列关闭
func (w *RiskWorker) Run(ctx context.Context) error {
	w.logger.Info("risk worker started")
	defer w.logger.Info("risk worker stopped")

	for {
		ev, err := w.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, events.ErrClosed) {
				return nil
			}
			metrics.QueueErrors.WithLabelValues("consume").Inc()
			w.logger.Error("consume risk event failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		w.handle(ctx, ev)
		if depth, err := w.queue.Len(ctx); err == nil {
			metrics.QueueDepth.Set(float64(depth))
		}
	}
}

// Drain 处理当前积压的全部事件，返回处理条数
func (w *RiskWorker) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		depth, err := w.queue.Len(ctx)
		if err != nil {
			return n, err
		}
		metrics.QueueDepth.Set(float64(depth))
		if depth == 0 {
			return n, nil
		}
		ev, err := w.queue.Consume(ctx)
		if err != nil {
			return n, err
		}
		w.handle(ctx, ev)
		n++
	}
}

func (w *RiskWorker) handle(ctx context.Context, ev events.Event) {
	p, err := w.applier.Apply(ctx, ev)
	if err == nil {
		w.logger.Debug("risk profile updated",
			zap.String("part_number", p.PartNumber),
			zap.String("event", string(ev.Type)),
			zap.Float64("risk_score", p.RiskScore),
			zap.String("volatility", string(p.VolatilityIndex)))
		return
	}

	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.String("part_number", ev.PartNumber),
		zap.Error(err),
	}
	if errors.Is(err, apperr.ErrValidation) {
		metrics.QueueErrors.WithLabelValues("invalid").Inc()
		w.logger.Warn("discard invalid risk event", fields...)
		return
	}

	// 停机中断的处理不计入失败次数
	if ctx.Err() == nil {
		ev.Attempts++
	}
	fields = append(fields, zap.Int("attempts", ev.Attempts))

	// 入队和死信写入不受停机取消影响
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()

	if ev.Attempts >= w.maxAttempts {
		w.deadLetter(opCtx, ev, fields)
		return
	}

	w.logger.Warn("apply risk event failed, requeued", fields...)
	w.wait(ctx, time.Duration(ev.Attempts)*w.retryBackoff)
	if err := w.queue.Publish(opCtx, ev); err != nil {
		metrics.QueueErrors.WithLabelValues("requeue").Inc()
		w.deadLetter(opCtx, ev, append(fields, zap.NamedError("requeue_error", err)))
	}
}

func (w *RiskWorker) deadLetter(ctx context.Context, ev events.Event, fields []zap.Field) {
	metrics.QueueErrors.WithLabelValues("dead_letter").Inc()
	if err := w.queue.DeadLetter(ctx, ev); err != nil {
		w.logger.Error("dead-letter risk event failed, event lost",
			append(fields, zap.NamedError("dead_letter_error", err))...)
		return
	}
	w.logger.Error("risk event moved to dead letter", fields...)
}

func (w *RiskWorker) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
