// Package queue 提供读取器与分发器之间的无界 FIFO。
package queue

import (
	"context"
	"sync"

	"airsense-acquisition/internal/models"
)

// IngestionQueue 多生产者、单消费者的无界有序队列
// Push 从不阻塞；Pop 在队列为空时挂起，直到有数据或 ctx 取消
type IngestionQueue struct {
	mu    sync.Mutex
	items []models.Record
	head  int
	// notify 容量为1，Push 后非阻塞地投递一个信号唤醒消费者
	notify chan struct{}
}

// New 创建队列
func New() *IngestionQueue {
	return &IngestionQueue{
		notify: make(chan struct{}, 1),
	}
}

// Push 入队
func (q *IngestionQueue) Push(rec models.Record) {
	q.mu.Lock()
	q.items = append(q.items, rec)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop 非阻塞出队
func (q *IngestionQueue) TryPop() (models.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return models.Record{}, false
	}
	rec := q.items[q.head]
	q.items[q.head] = models.Record{}
	q.head++

	// 读空后复用底层数组，避免长期运行时切片无限增长
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return rec, true
}

// Pop 阻塞出队
func (q *IngestionQueue) Pop(ctx context.Context) (models.Record, error) {
	for {
		if rec, ok := q.TryPop(); ok {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return models.Record{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len 当前长度
func (q *IngestionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Empty 队列是否为空
func (q *IngestionQueue) Empty() bool {
	return q.Len() == 0
}
