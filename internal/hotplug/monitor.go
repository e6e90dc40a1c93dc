package hotplug

import (
	"sort"
	"sync"
	"time"

	"airsense-acquisition/internal/models"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultInterval 两次重新扫描之间的最小间隔
const DefaultInterval = 5 * time.Second

// Discovery 设备发现
type Discovery interface {
	Discover() ([]models.DeviceDescriptor, error)
}

// Starter 为新设备启动一个读取器
type Starter func(device models.DeviceDescriptor)

// Monitor 热插拔监视：在队列空闲且距上次检查已超过 interval 时重新发现设备，
// 对未见过的序列号各启动一个读取器；已知序列号永不重启
// 消失的设备不主动检测，其读取器会停留在 Faulted 并按退避重试
type Monitor struct {
	discovery Discovery
	start     Starter
	interval  time.Duration
	clock     clock.Clock
	logger    *zap.Logger

	mu        sync.Mutex
	known     map[string]models.DeviceDescriptor
	lastCheck time.Time
	scanned   bool
}

// NewMonitor 创建热插拔监视器
func NewMonitor(discovery Discovery, start Starter, interval time.Duration, clk clock.Clock, logger *zap.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		discovery: discovery,
		start:     start,
		interval:  interval,
		clock:     clk,
		logger:    logger,
		known:     make(map[string]models.DeviceDescriptor),
	}
}

// Interval 扫描间隔
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Scan 立即执行一次发现，返回新启动的读取器数量
func (m *Monitor) Scan() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanLocked()
}

// MaybeScan 距上次检查已满 interval 时执行 Scan；由分发循环在队列为空时调用
func (m *Monitor) MaybeScan() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.scanned && m.clock.Since(m.lastCheck) < m.interval {
		return 0
	}
	return m.scanLocked()
}

func (m *Monitor) scanLocked() int {
	defer func() {
		m.lastCheck = m.clock.Now()
		m.scanned = true
	}()

	devices, err := m.discovery.Discover()
	if err != nil {
		m.logger.Error("Device discovery failed", zap.Error(err))
		return 0
	}

	started := 0
	for _, dev := range devices {
		key := dev.Key()
		if _, ok := m.known[key]; ok {
			continue
		}
		m.known[key] = dev
		m.logger.Info("New device detected",
			zap.String("name", dev.DisplayName),
			zap.String("path", dev.Path),
			zap.String("serial_number", dev.SerialNumber),
		)
		m.start(dev)
		started++
	}
	return started
}

// Known 已知设备的身份键（排序）
func (m *Monitor) Known() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.known))
	for k := range m.known {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
