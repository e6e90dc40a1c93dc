// Package dispatcher 唯一的队列消费者：校验记录、写库、提交后转发。
package dispatcher

import (
	"context"
	"sync/atomic"
	"time"

	"airsense-acquisition/internal/models"

	"go.uber.org/zap"
)

// DefaultDrainTimeout 取消后清空队列的最长时间
const DefaultDrainTimeout = 5 * time.Second

// Queue 记录来源
type Queue interface {
	Pop(ctx context.Context) (models.Record, error)
	TryPop() (models.Record, bool)
	Len() int
}

// Store 持久化
type Store interface {
	Insert(ctx context.Context, rec models.Record) error
}

// Notifier 提交后的转发
type Notifier interface {
	Publish(ctx context.Context, rec models.Record) error
}

// Idler 队列空闲时调用，用于热插拔检查
type Idler interface {
	MaybeScan() int
	Interval() time.Duration
}

// Stats 分发计数
type Stats struct {
	Persisted uint64
	Discarded uint64
	Failed    uint64
}

// Dispatcher 持久化分发器
type Dispatcher struct {
	queue    Queue
	schemas  *models.SchemaTable
	store    Store
	notifier Notifier
	idler    Idler
	logger   *zap.Logger

	drainTimeout time.Duration

	persisted atomic.Uint64
	discarded atomic.Uint64
	failed    atomic.Uint64
}

// NewDispatcher 创建分发器；notifier 和 idler 可以为 nil
func NewDispatcher(queue Queue, schemas *models.SchemaTable, store Store, notifier Notifier, idler Idler, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		schemas:  schemas,
		store:    store,
		notifier: notifier,
		idler:    idler,
		logger:   logger,

		drainTimeout: DefaultDrainTimeout,
	}
}

// SetDrainTimeout 设置取消后清空队列的最长时间
func (d *Dispatcher) SetDrainTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.drainTimeout = timeout
	}
}

// Run 消费循环，直到 ctx 取消
// 弹出等待最长一个热插拔间隔，超时后回到循环顶部做空闲检查。
// 取消后不再等待新记录，但已入队的记录在 drainTimeout 内继续写库；
// 写库使用的 context 在 ctx 取消后 drainTimeout 才取消，进行中的写入不会被打断。
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Dispatcher started")
	defer func() {
		d.logger.Info("Dispatcher stopped",
			zap.Uint64("persisted", d.persisted.Load()),
			zap.Uint64("discarded", d.discarded.Load()),
			zap.Uint64("failed", d.failed.Load()),
			zap.Int("pending", d.queue.Len()),
		)
	}()

	work, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	stopDeadline := context.AfterFunc(ctx, func() {
		time.AfterFunc(d.drainTimeout, cancelWork)
	})
	defer stopDeadline()

	for {
		if ctx.Err() != nil {
			d.drain(work)
			return nil
		}

		if d.queue.Len() == 0 && d.idler != nil {
			d.idler.MaybeScan()
		}

		rec, err := d.pop(ctx)
		if err != nil {
			// 超时或取消
			continue
		}
		d.Handle(work, rec)
	}
}

// drain 取消后把队列中剩余记录写完，直到队列为空或 ctx 到期
func (d *Dispatcher) drain(ctx context.Context) {
	drained := 0
	for ctx.Err() == nil {
		rec, ok := d.queue.TryPop()
		if !ok {
			break
		}
		d.Handle(ctx, rec)
		drained++
	}
	if drained > 0 {
		d.logger.Info("Drained queued records on shutdown", zap.Int("records", drained))
	}
	if n := d.queue.Len(); n > 0 {
		d.logger.Warn("Drain deadline reached, records left in queue", zap.Int("pending", n))
	}
}

func (d *Dispatcher) pop(ctx context.Context) (models.Record, error) {
	if d.idler == nil {
		return d.queue.Pop(ctx)
	}
	popCtx, cancel := context.WithTimeout(ctx, d.idler.Interval())
	defer cancel()
	return d.queue.Pop(popCtx)
}

// Handle 处理一条记录：不符合 schema 的静默丢弃，写库失败记录日志后继续
func (d *Dispatcher) Handle(ctx context.Context, rec models.Record) {
	s, ok := d.schemas.ByKind(rec.Kind)
	if !ok || !rec.Conforms(s) {
		d.discarded.Add(1)
		d.logger.Debug("Discarded nonconforming record",
			zap.Stringer("kind", rec.Kind),
			zap.String("serial_number", rec.SerialNumber),
		)
		return
	}

	if err := d.store.Insert(ctx, rec); err != nil {
		d.failed.Add(1)
		d.logger.Error("Failed to persist record",
			zap.String("table", s.Table),
			zap.String("serial_number", rec.SerialNumber),
			zap.String("ts", rec.Timestamp),
			zap.Error(err),
		)
		return
	}
	d.persisted.Add(1)

	if d.notifier != nil {
		// 失败已由 notifier 记录
		_ = d.notifier.Publish(ctx, rec)
	}
}

// Stats 当前计数
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Persisted: d.persisted.Load(),
		Discarded: d.discarded.Load(),
		Failed:    d.failed.Load(),
	}
}
