package reader

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Opener 打开串口（测试中替换为内存实现）
type Opener func(path string, baudRate int) (io.ReadCloser, error)

// OpenSerial 以 8N1 打开串口
func OpenSerial(path string, baudRate int) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}
