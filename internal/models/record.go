package models

import (
	"fmt"
	"math"
)

// 整型列（BIGINT）可表示的范围 [-2^63, 2^63)
const (
	minIntegerColumn float64 = -(1 << 63)
	maxIntegerColumn float64 = 1 << 63
)

// FitsIntegerColumn 四舍五入后能否无损写入整型列
func FitsIntegerColumn(v float64) bool {
	r := math.Round(v)
	return r >= minIntegerColumn && r < maxIntegerColumn
}

// Record 解码后带时间戳的一条测量记录
// Kind 在解码时确定一次，随记录经过队列，分发时不再按字段数重新推断
type Record struct {
	Kind         DeviceKind
	Timestamp    string // ts，格式 2006-01-02 15:04:05
	SerialNumber string
	// Values 只包含该类型 OutputFields 中的数值字段
	Values map[string]float64
	// Telemetry 不落库的其余数值字段（如 OPC-R2 的温湿度、bin 计数），只用于发布
	Telemetry map[string]float64
	// Source 产生该记录的串口路径
	Source string
}

// Fields 返回逻辑字段名 -> 值，字段集合与 Schema.OutputFields 一致
func (r Record) Fields() map[string]any {
	m := make(map[string]any, len(r.Values)+2)
	m[FieldTimestamp] = r.Timestamp
	m[FieldSerialNumber] = r.SerialNumber
	for k, v := range r.Values {
		m[k] = v
	}
	return m
}

// Conforms 检查记录字段集合是否与 schema 输出字段完全一致
func (r Record) Conforms(s Schema) bool {
	if r.Kind != s.Kind {
		return false
	}
	if len(r.Values)+2 != len(s.OutputFields) {
		return false
	}
	for _, f := range s.OutputFields {
		if f == FieldTimestamp || f == FieldSerialNumber {
			continue
		}
		if _, ok := r.Values[f]; !ok {
			return false
		}
	}
	return true
}

// InsertArgs 按 schema 列顺序生成绑定参数；数值列为整型，四舍五入
func (r Record) InsertArgs(s Schema) ([]any, error) {
	args := make([]any, 0, len(s.OutputFields))
	for _, f := range s.OutputFields {
		switch f {
		case FieldTimestamp:
			args = append(args, r.Timestamp)
		case FieldSerialNumber:
			args = append(args, r.SerialNumber)
		default:
			v, ok := r.Values[f]
			if !ok {
				return nil, fmt.Errorf("record missing field %s for %s", f, s.Kind)
			}
			if !FitsIntegerColumn(v) {
				return nil, fmt.Errorf("field %s value %g out of integer column range", f, v)
			}
			args = append(args, int64(math.Round(v)))
		}
	}
	return args, nil
}
