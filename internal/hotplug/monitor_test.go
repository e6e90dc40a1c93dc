package hotplug

import (
	"errors"
	"testing"
	"time"

	"airsense-acquisition/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// MockDiscovery 是 Discovery 的 mock 实现
type MockDiscovery struct {
	mock.Mock
}

func (m *MockDiscovery) Discover() ([]models.DeviceDescriptor, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.DeviceDescriptor), args.Error(1)
}

var devA = models.DeviceDescriptor{Path: "/dev/ttyACM0", SerialNumber: "SN-A", VendorID: 0x239a, ProductID: 0x80cb}
var devB = models.DeviceDescriptor{Path: "/dev/ttyACM1", SerialNumber: "SN-B", VendorID: 0x239a, ProductID: 0x80cb}

type startRecorder struct {
	started []models.DeviceDescriptor
}

func (s *startRecorder) start(dev models.DeviceDescriptor) {
	s.started = append(s.started, dev)
}

func TestScan_StartsEachSerialOnce(t *testing.T) {
	disc := new(MockDiscovery)
	disc.On("Discover").Return([]models.DeviceDescriptor{devA}, nil).Twice()
	rec := &startRecorder{}
	m := NewMonitor(disc, rec.start, time.Second, clock.NewMock(), zap.NewNop())

	assert.Equal(t, 1, m.Scan())
	assert.Equal(t, 0, m.Scan())

	assert.Equal(t, []models.DeviceDescriptor{devA}, rec.started)
	assert.Equal(t, []string{"SN-A"}, m.Known())
	disc.AssertExpectations(t)
}

func TestScan_NewDeviceAppears(t *testing.T) {
	disc := new(MockDiscovery)
	disc.On("Discover").Return([]models.DeviceDescriptor{devA}, nil).Once()
	disc.On("Discover").Return([]models.DeviceDescriptor{devA, devB}, nil).Once()
	rec := &startRecorder{}
	m := NewMonitor(disc, rec.start, time.Second, clock.NewMock(), zap.NewNop())

	assert.Equal(t, 1, m.Scan())
	assert.Equal(t, 1, m.Scan())
	assert.Equal(t, []models.DeviceDescriptor{devA, devB}, rec.started)
}

func TestMaybeScan_RespectsInterval(t *testing.T) {
	disc := new(MockDiscovery)
	disc.On("Discover").Return([]models.DeviceDescriptor{}, nil)
	mockClock := clock.NewMock()
	m := NewMonitor(disc, func(models.DeviceDescriptor) {}, 5*time.Second, mockClock, zap.NewNop())

	// 第一次总是扫描
	m.MaybeScan()
	disc.AssertNumberOfCalls(t, "Discover", 1)

	mockClock.Add(4 * time.Second)
	m.MaybeScan()
	disc.AssertNumberOfCalls(t, "Discover", 1)

	mockClock.Add(time.Second)
	m.MaybeScan()
	disc.AssertNumberOfCalls(t, "Discover", 2)
}

func TestScan_DiscoveryErrorIsNotFatal(t *testing.T) {
	disc := new(MockDiscovery)
	disc.On("Discover").Return(nil, errors.New("enumerate failed")).Once()
	disc.On("Discover").Return([]models.DeviceDescriptor{devA}, nil).Once()
	rec := &startRecorder{}
	m := NewMonitor(disc, rec.start, time.Second, clock.NewMock(), zap.NewNop())

	assert.Equal(t, 0, m.Scan())
	assert.Equal(t, 1, m.Scan())
	assert.Len(t, rec.started, 1)
}

func TestScan_LogsNewDevice(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	disc := new(MockDiscovery)
	disc.On("Discover").Return([]models.DeviceDescriptor{devA}, nil)
	m := NewMonitor(disc, func(models.DeviceDescriptor) {}, time.Second, clock.NewMock(), zap.New(core))

	m.Scan()
	m.Scan()

	entries := logs.FilterMessage("New device detected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/dev/ttyACM0", fields["path"])
	assert.Equal(t, "SN-A", fields["serial_number"])
}
