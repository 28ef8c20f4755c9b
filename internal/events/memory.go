package events

import (
	"context"
	"sync"
)

// MemoryQueue 进程内队列，单实例部署和测试使用
type MemoryQueue struct {
	ch     chan Event
	done   chan struct{}
	closed sync.Once

	mu   sync.Mutex
	dead []Event
}

// NewMemoryQueue 创建进程内队列
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryQueue{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, ev Event) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- ev:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context) (Event, error) {
	select {
	case ev := <-q.ch:
		return ev, nil
	case <-q.done:
		return Event{}, ErrClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (q *MemoryQueue) Len(ctx context.Context) (int64, error) {
	return int64(len(q.ch)), nil
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, ev)
	return nil
}

// DeadLetters 死信副本
func (q *MemoryQueue) DeadLetters() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Event(nil), q.dead...)
}

func (q *MemoryQueue) Close() error {
	q.closed.Do(func() { close(q.done) })
	return nil
}
