package models

import (
	"errors"
	"fmt"
)

// 错误分类
var (
	// ErrPortUnavailable 串口无法打开，下次 Open 重试
	ErrPortUnavailable = errors.New("serial port unavailable")
	// ErrNonNumericField 数值位置出现非数字，丢弃该帧
	ErrNonNumericField = errors.New("non-numeric field")
	// ErrUnrecognizedFrameLength token 数不匹配任何设备类型，丢弃该帧
	ErrUnrecognizedFrameLength = errors.New("unrecognized frame length")
	// ErrConnectionIO 已打开连接上的读错误，连接关闭并进入 Faulted
	ErrConnectionIO = errors.New("serial connection i/o error")
	// ErrPersistence 写库或提交失败，记录被丢弃
	ErrPersistence = errors.New("persistence error")
)

// DecodeError 帧解码失败
type DecodeError struct {
	Reason error // ErrNonNumericField 或 ErrUnrecognizedFrameLength
	Index  int   // 出错 token 下标，长度错误时为 -1
	Token  string
	Length int
	Line   string
}

func (e *DecodeError) Error() string {
	if errors.Is(e.Reason, ErrUnrecognizedFrameLength) {
		return fmt.Sprintf("%v: %d tokens", e.Reason, e.Length)
	}
	return fmt.Sprintf("%v: token %d %q", e.Reason, e.Index, e.Token)
}

func (e *DecodeError) Unwrap() error {
	return e.Reason
}
