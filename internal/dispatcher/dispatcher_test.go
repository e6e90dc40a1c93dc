package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"airsense-acquisition/internal/models"
	"airsense-acquisition/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu       sync.Mutex
	inserted []models.Record
	failFor  string
	// cancelled 收到已取消 context 的写入次数
	cancelled int
}

func (s *fakeStore) Insert(ctx context.Context, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		s.cancelled++
		return ctx.Err()
	}
	if rec.SerialNumber == s.failFor {
		return models.ErrPersistence
	}
	s.inserted = append(s.inserted, rec)
	return nil
}

func (s *fakeStore) serials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.inserted))
	for _, r := range s.inserted {
		out = append(out, r.SerialNumber)
	}
	return out
}

// blockingStore 写入一直阻塞到 ctx 取消
type blockingStore struct{}

func (blockingStore) Insert(ctx context.Context, _ models.Record) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []string
}

func (n *fakeNotifier) Publish(_ context.Context, rec models.Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, rec.SerialNumber)
	return errors.New("broker unavailable")
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.published)
}

type fakeIdler struct {
	interval time.Duration
	scans    atomic.Int32
	onScan   func(n int32)
}

func (i *fakeIdler) MaybeScan() int {
	n := i.scans.Add(1)
	if i.onScan != nil {
		i.onScan(n)
	}
	return 0
}

func (i *fakeIdler) Interval() time.Duration {
	return i.interval
}

func plantower(serial string) models.Record {
	return models.Record{
		Kind:         models.KindPlantower,
		Timestamp:    "2024-01-01 00:00:00",
		SerialNumber: serial,
		Values: map[string]float64{
			"PM1": 1, "PM2.5": 2, "PM10": 3,
			"PN0.3": 4, "PN0.5": 5, "PN1": 6, "PN2.5": 7, "PN5": 8, "PN10": 9,
		},
	}
}

func TestHandle_DiscardsNonconforming(t *testing.T) {
	store := &fakeStore{}
	d := NewDispatcher(queue.New(), models.DefaultSchemaTable(), store, nil, nil, zap.NewNop())

	missing := plantower("A")
	delete(missing.Values, "PN10")
	d.Handle(context.Background(), missing)

	unknown := plantower("B")
	unknown.Kind = models.KindUnknown
	d.Handle(context.Background(), unknown)

	// AlphaSense 类型却带着 Plantower 字段
	wrongKind := plantower("C")
	wrongKind.Kind = models.KindAlphaSense
	d.Handle(context.Background(), wrongKind)

	assert.Empty(t, store.serials())
	assert.Equal(t, Stats{Discarded: 3}, d.Stats())
}

func TestHandle_ContinuesAfterPersistenceFailure(t *testing.T) {
	store := &fakeStore{failFor: "BAD"}
	notifier := &fakeNotifier{}
	d := NewDispatcher(queue.New(), models.DefaultSchemaTable(), store, notifier, nil, zap.NewNop())

	d.Handle(context.Background(), plantower("BAD"))
	d.Handle(context.Background(), plantower("GOOD"))

	assert.Equal(t, []string{"GOOD"}, store.serials())
	assert.Equal(t, Stats{Persisted: 1, Failed: 1}, d.Stats())
	// 只转发已提交的记录；发布失败不影响计数
	assert.Equal(t, 1, notifier.count())
}

func TestRun_PersistsInQueueOrder(t *testing.T) {
	q := queue.New()
	store := &fakeStore{}
	d := NewDispatcher(q, models.DefaultSchemaTable(), store, nil, &fakeIdler{interval: 10 * time.Millisecond}, zap.NewNop())

	for _, s := range []string{"A", "B", "C"} {
		q.Push(plantower(s))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(store.serials()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B", "C"}, store.serials())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_IdleScanOnboardsNewDevice(t *testing.T) {
	q := queue.New()
	store := &fakeStore{}
	// 第3次空闲检查时“插入”设备，设备产生一条记录
	idler := &fakeIdler{interval: 10 * time.Millisecond}
	idler.onScan = func(n int32) {
		if n == 3 {
			q.Push(plantower("HOTPLUG"))
		}
	}
	d := NewDispatcher(q, models.DefaultSchemaTable(), store, nil, idler, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	assert.Eventually(t, func() bool { return len(store.serials()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, idler.scans.Load(), int32(3))
}

func TestRun_DrainsQueueAfterCancel(t *testing.T) {
	q := queue.New()
	store := &fakeStore{}
	d := NewDispatcher(q, models.DefaultSchemaTable(), store, nil, &fakeIdler{interval: time.Hour}, zap.NewNop())

	for _, s := range []string{"A", "B", "C", "D", "E"} {
		q.Push(plantower(s))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, d.Run(ctx))
	assert.Equal(t, []string{"A", "B", "C", "D", "E"}, store.serials())
	assert.Equal(t, 0, store.cancelled)
	assert.Equal(t, Stats{Persisted: 5}, d.Stats())
	assert.True(t, q.Empty())
}

func TestRun_DrainStopsAtDeadline(t *testing.T) {
	q := queue.New()
	d := NewDispatcher(q, models.DefaultSchemaTable(), blockingStore{}, nil, nil, zap.NewNop())
	d.SetDrainTimeout(20 * time.Millisecond)

	for _, s := range []string{"A", "B", "C"} {
		q.Push(plantower(s))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not respect its deadline")
	}

	assert.Equal(t, Stats{Failed: 1}, d.Stats())
	assert.Equal(t, 2, q.Len())
}
