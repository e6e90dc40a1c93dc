// Package decoder 将串口上的一行文本解码为 models.Record。
//
// 帧格式：逗号分隔，第0个 token 是序列号/标签，其余均为十进制数。
// 设备类型只由 token 数决定（见 models.SchemaTable）。解码是纯函数：
// 采样时间由调用方传入，相同 (line, now) 一定得到相同的 Record。
package decoder

import (
	"math"
	"strconv"
	"strings"
	"time"

	"airsense-acquisition/internal/models"
)

// DefaultTimestampLayout ts 字段格式，与库中 DATETIME 文本一致
const DefaultTimestampLayout = "2006-01-02 15:04:05"

// Decoder 帧解码器
type Decoder struct {
	table  *models.SchemaTable
	layout string
}

// New 创建解码器，layout 为空时使用 DefaultTimestampLayout
func New(table *models.SchemaTable, layout string) *Decoder {
	if layout == "" {
		layout = DefaultTimestampLayout
	}
	return &Decoder{table: table, layout: layout}
}

// Decode 解码一帧
// 错误均为 *models.DecodeError，可用 errors.Is 匹配 models.ErrNonNumericField / models.ErrUnrecognizedFrameLength
func (d *Decoder) Decode(line string, now time.Time) (models.Record, error) {
	line = strings.TrimSpace(line)
	tokens := strings.Split(line, ",")

	// 1. tokens[1:] 必须全部是数字
	numbers := make([]float64, len(tokens))
	for i := 1; i < len(tokens); i++ {
		tok := strings.TrimSpace(tokens[i])
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return models.Record{}, &models.DecodeError{
				Reason: models.ErrNonNumericField,
				Index:  i,
				Token:  tok,
				Length: len(tokens),
				Line:   line,
			}
		}
		numbers[i] = v
	}

	// 2. 只按 token 数确定设备类型
	schema, ok := d.table.ByFrameLength(len(tokens))
	if !ok {
		return models.Record{}, &models.DecodeError{
			Reason: models.ErrUnrecognizedFrameLength,
			Index:  -1,
			Length: len(tokens),
			Line:   line,
		}
	}

	// 3. 字段名与 token 对齐
	rec := models.Record{
		Kind:         schema.Kind,
		SerialNumber: strings.ToValidUTF8(strings.TrimSpace(tokens[0]), ""),
		Values:       make(map[string]float64, len(schema.OutputFields)-2),
	}
	for i := 1; i < len(schema.RawFields); i++ {
		name := schema.RawFields[i]
		if schema.Persisted(name) {
			// 落库列为整型，超出范围的读数按非法数值丢弃
			if !models.FitsIntegerColumn(numbers[i]) {
				return models.Record{}, &models.DecodeError{
					Reason: models.ErrNonNumericField,
					Index:  i,
					Token:  strings.TrimSpace(tokens[i]),
					Length: len(tokens),
					Line:   line,
				}
			}
			rec.Values[name] = numbers[i]
			continue
		}
		if rec.Telemetry == nil {
			rec.Telemetry = make(map[string]float64)
		}
		rec.Telemetry[name] = numbers[i]
	}

	// 4. 注入采样时间
	rec.Timestamp = now.Format(d.layout)

	return rec, nil
}
