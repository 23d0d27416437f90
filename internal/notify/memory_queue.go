package notify

import (
	"context"
	"sync"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
)

// MemoryQueue 使用 channel 模拟通知队列，用于单实例部署和测试。
// 数据通道永远不关闭：Close 只广播 done 信号，
// 阻塞中的 Publish 会被唤醒并返回错误而不是向已关闭通道发送。
type MemoryQueue struct {
	ch   chan Notice
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue 创建一个内存通知队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:   make(chan Notice, size),
		done: make(chan struct{}),
	}
}

// Publish 将通知投递到队列。队列已关闭或关闭发生在阻塞等待期间都返回错误。
func (q *MemoryQueue) Publish(ctx context.Context, notice Notice) error {
	select {
	case <-q.done:
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	case q.ch <- notice:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的通知。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case notice := <-q.ch:
					_ = handler(ctx, notice)
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
	case <-q.done:
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列，可重复调用。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
