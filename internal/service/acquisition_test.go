package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"airsense-acquisition/internal/config"
	"airsense-acquisition/internal/models"
	"airsense-acquisition/internal/reader"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticDiscovery struct {
	devices []models.DeviceDescriptor
}

func (d *staticDiscovery) Discover() ([]models.DeviceDescriptor, error) {
	return d.devices, nil
}

// onceOpener 每个路径第一次打开返回预置数据，之后端口不可用
type onceOpener struct {
	mu    sync.Mutex
	lines map[string]string
}

func (o *onceOpener) open(path string, _ int) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.lines[path]
	if !ok {
		return nil, errors.New("no such device")
	}
	delete(o.lines, path)
	return io.NopCloser(strings.NewReader(data)), nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Database.Driver = "postgres"
	cfg.Acquisition.BaudRate = 115200
	cfg.Acquisition.HotplugInterval = 20 * time.Millisecond
	cfg.Acquisition.BackoffInitial = time.Millisecond
	cfg.Acquisition.BackoffMax = 5 * time.Millisecond
	cfg.Acquisition.TimestampLayout = "2006-01-02 15:04:05"
	return cfg
}

func TestAcquisitionService_EndToEnd(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO data_pms5003").
		WithArgs(sqlmock.AnyArg(), "ABC123", 1, 2, 3, 4, 5, 6, 7, 8, 9).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	opener := &onceOpener{lines: map[string]string{
		"/dev/ttyACM0": "ABC123,1,2,3,4,5,6,7,8,9\nnoise\n",
	}}
	s := newAcquisitionService(testConfig(), zap.NewNop(), Dependencies{
		DB:        db,
		Discovery: &staticDiscovery{devices: []models.DeviceDescriptor{{Path: "/dev/ttyACM0", SerialNumber: "QTPY-1"}}},
		Opener:    opener.open,
	})

	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return s.Stats().Persisted == 1 }, 2*time.Second, 5*time.Millisecond)
	// 数据读完后 EOF，读取器进入 Faulted 并持续重试
	assert.Eventually(t, func() bool {
		st := s.DeviceStates()["QTPY-1"]
		return st == reader.StateFaulted || st == reader.StateClosed
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquisitionService_NoDevicesStillStops(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	s := newAcquisitionService(testConfig(), zap.NewNop(), Dependencies{
		DB:        db,
		Discovery: &staticDiscovery{},
		Opener:    (&onceOpener{}).open,
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.DeviceStates())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquisitionService_StopPersistsQueuedRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO data_pms5003").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
	}
	mock.ExpectClose()

	s := newAcquisitionService(testConfig(), zap.NewNop(), Dependencies{
		DB:        db,
		Discovery: &staticDiscovery{},
		Opener:    (&onceOpener{}).open,
	})
	require.NoError(t, s.Start(context.Background()))

	for _, serial := range []string{"SN-1", "SN-2", "SN-3"} {
		s.queue.Push(models.Record{
			Kind:         models.KindPlantower,
			Timestamp:    "2024-01-01 00:00:00",
			SerialNumber: serial,
			Values: map[string]float64{
				"PM1": 1, "PM2.5": 2, "PM10": 3,
				"PN0.3": 4, "PN0.5": 5, "PN1": 6, "PN2.5": 7, "PN5": 8, "PN10": 9,
			},
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	assert.Equal(t, uint64(3), s.Stats().Persisted)
	assert.Equal(t, 0, s.queue.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAcquisitionService_SQLiteCreatesTables(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Database = t.TempDir() + "/airsense.db"

	s, err := NewAcquisitionService(cfg, zap.NewNop())
	require.NoError(t, err)

	for _, table := range []string{"data_pms5003", "data_opc_r2"} {
		var n int
		require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n), table)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
