// Package reader 每个串口设备一个读取器：持有串口连接、逐行读取、解码并推入队列。
//
// 状态机：Closed -> Open -> Reading <-> Faulted。
// 连接级读错误关闭端口并进入 Faulted，下一轮 Open 尝试恢复；
// 解码错误只丢弃该帧，连接保持打开。
package reader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"airsense-acquisition/internal/decoder"
	"airsense-acquisition/internal/models"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// State 读取器状态
type State int

const (
	StateClosed State = iota
	StateOpen
	StateReading
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateReading:
		return "reading"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// maxFrameBytes 超过该长度仍无换行的数据按坏帧丢弃
const maxFrameBytes = 4096

var errFrameTooLong = fmt.Errorf("%w: frame exceeds %d bytes", models.ErrUnrecognizedFrameLength, maxFrameBytes)

// errReaderStopped Run 已取消，不再打开端口
var errReaderStopped = errors.New("device reader stopped")

// Sink 记录的去处（IngestionQueue 满足）
type Sink interface {
	Push(rec models.Record)
}

// Backoff 失败后的等待：解码失败固定等待 Initial；端口不可用或读错误时从 Initial 翻倍到 Max
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Next 计算下一次等待时长
func (b Backoff) Next(current time.Duration) time.Duration {
	if current <= 0 {
		return b.Initial
	}
	next := current * 2
	if next > b.Max {
		next = b.Max
	}
	return next
}

// Options 读取器参数
type Options struct {
	BaudRate int
	Backoff  Backoff
}

// DeviceReader 单个设备的读取器，串口句柄只在本读取器内部使用
type DeviceReader struct {
	device  models.DeviceDescriptor
	options Options
	open    Opener
	decoder *decoder.Decoder
	clock   clock.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	state   State
	port    io.ReadCloser
	lines   *bufio.Reader
	stopped bool
}

// NewDeviceReader 创建读取器（初始为 Closed，不会立即打开端口）
func NewDeviceReader(
	device models.DeviceDescriptor,
	options Options,
	open Opener,
	dec *decoder.Decoder,
	clk clock.Clock,
	logger *zap.Logger,
) *DeviceReader {
	if open == nil {
		open = OpenSerial
	}
	if clk == nil {
		clk = clock.New()
	}
	return &DeviceReader{
		device:  device,
		options: options,
		open:    open,
		decoder: dec,
		clock:   clk,
		logger: logger.With(
			zap.String("path", device.Path),
			zap.String("serial_number", device.SerialNumber),
		),
		state: StateClosed,
	}
}

// Device 设备描述
func (r *DeviceReader) Device() models.DeviceDescriptor {
	return r.device
}

// State 当前状态
func (r *DeviceReader) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Open 打开串口；已打开时无任何效果
// 失败返回包装了 models.ErrPortUnavailable 的错误
func (r *DeviceReader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openLocked()
}

func (r *DeviceReader) openLocked() error {
	if r.port != nil {
		return nil
	}
	if r.stopped {
		return errReaderStopped
	}

	port, err := r.open(r.device.Path, r.options.BaudRate)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrPortUnavailable, r.device.Path, err)
	}

	r.port = port
	r.lines = bufio.NewReaderSize(port, maxFrameBytes)
	r.state = StateOpen
	r.logger.Info("Serial port opened", zap.Int("baud_rate", r.options.BaudRate))
	return nil
}

// Close 关闭串口，进入 Closed；也用于在关闭时打断阻塞中的读
func (r *DeviceReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = StateClosed
	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	r.lines = nil
	return err
}

// shutdown 关闭端口并禁止再次打开，直到下一次 Run
func (r *DeviceReader) shutdown() error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	return r.Close()
}

// ReadOne 阻塞读取一帧并解码
// 解码失败：返回 *models.DecodeError，连接保持打开
// 读错误：关闭连接，进入 Faulted，返回包装了 models.ErrConnectionIO 的错误
func (r *DeviceReader) ReadOne() (models.Record, error) {
	r.mu.Lock()
	if err := r.openLocked(); err != nil {
		r.mu.Unlock()
		return models.Record{}, err
	}
	r.state = StateReading
	port, lines := r.port, r.lines
	r.mu.Unlock()

	// 不持锁读，Close 可以并发打断
	line, err := readLine(lines)
	if err != nil {
		if errors.Is(err, errFrameTooLong) {
			return models.Record{}, err
		}
		r.fault(port, err)
		return models.Record{}, fmt.Errorf("%w: %s: %v", models.ErrConnectionIO, r.device.Path, err)
	}

	rec, err := r.decoder.Decode(line, r.clock.Now())
	if err != nil {
		return models.Record{}, err
	}
	rec.Source = r.device.Path
	return rec, nil
}

// fault 读错误后关闭端口；若端口已被替换或关闭则不处理
func (r *DeviceReader) fault(port io.ReadCloser, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port != port {
		return
	}
	if err := r.port.Close(); err != nil {
		r.logger.Debug("Error closing faulted port", zap.Error(err))
	}
	r.port = nil
	r.lines = nil
	r.state = StateFaulted
	r.logger.Error("Serial read failed, port closed", zap.Error(cause))
}

// readLine 读取到换行为止；超长帧整段丢弃
func readLine(lines *bufio.Reader) (string, error) {
	buf, err := lines.ReadSlice('\n')
	if err == nil {
		return string(buf), nil
	}
	if !errors.Is(err, bufio.ErrBufferFull) {
		return "", err
	}
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = lines.ReadSlice('\n')
	}
	if err != nil {
		return "", err
	}
	return "", errFrameTooLong
}

// Run 读取循环：成功则推入 sink，失败则等待后重试，直到 ctx 取消
func (r *DeviceReader) Run(ctx context.Context, sink Sink) error {
	r.mu.Lock()
	r.stopped = false
	r.mu.Unlock()

	// ctx 取消时关闭端口，打断阻塞的读
	stop := context.AfterFunc(ctx, func() {
		if err := r.shutdown(); err != nil {
			r.logger.Debug("Error closing port on shutdown", zap.Error(err))
		}
	})
	defer stop()

	r.logger.Info("Device reader started")

	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			r.logger.Info("Device reader stopped")
			return nil
		}

		rec, err := r.ReadOne()
		if err == nil {
			sink.Push(rec)
			backoff = 0
			continue
		}
		if ctx.Err() != nil || errors.Is(err, errReaderStopped) {
			continue
		}

		var delay time.Duration
		switch {
		case errors.Is(err, models.ErrNonNumericField), errors.Is(err, models.ErrUnrecognizedFrameLength):
			r.logger.Warn("Dropped malformed frame", zap.Error(err))
			delay = r.options.Backoff.Initial
		case errors.Is(err, models.ErrPortUnavailable):
			backoff = r.options.Backoff.Next(backoff)
			delay = backoff
			r.logger.Warn("Serial port will not open", zap.Error(err), zap.Duration("backoff", delay))
		default:
			backoff = r.options.Backoff.Next(backoff)
			delay = backoff
			r.logger.Warn("Serial read error", zap.Error(err), zap.Duration("backoff", delay))
		}

		select {
		case <-ctx.Done():
		case <-r.clock.After(delay):
		}
	}
}
