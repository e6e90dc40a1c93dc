package models

import "fmt"

// DeviceKind 设备协议类型（封闭枚举）
type DeviceKind int

const (
	KindUnknown DeviceKind = iota
	KindPlantower
	KindAlphaSense
)

// 传感器型号名，读取接口和日志使用
const (
	SensorPlantower  = "PMS5003"
	SensorAlphaSense = "OPC-R2"
)

func (k DeviceKind) String() string {
	switch k {
	case KindPlantower:
		return SensorPlantower
	case KindAlphaSense:
		return SensorAlphaSense
	default:
		return "unknown"
	}
}

// 记录中的非数值字段
const (
	FieldTimestamp    = "ts"
	FieldSerialNumber = "serial_number"
)

// Schema 一种设备类型的帧格式与落库方式
// RawFields 与帧中 token 一一对应（第0个是标签），OutputFields 与 Columns 一一对应
type Schema struct {
	Kind         DeviceKind
	RawFields    []string
	OutputFields []string
	Table        string
	Columns      []string
}

// FrameLength 帧 token 数
func (s Schema) FrameLength() int {
	return len(s.RawFields)
}

// Persisted 判断原始字段是否进入 Record
func (s Schema) Persisted(field string) bool {
	for _, f := range s.OutputFields {
		if f == field {
			return true
		}
	}
	return false
}

var plantowerSchema = Schema{
	Kind:         KindPlantower,
	RawFields:    []string{FieldSerialNumber, "PM1", "PM2.5", "PM10", "PN0.3", "PN0.5", "PN1", "PN2.5", "PN5", "PN10"},
	OutputFields: []string{FieldTimestamp, FieldSerialNumber, "PM1", "PM2.5", "PM10", "PN0.3", "PN0.5", "PN1", "PN2.5", "PN5", "PN10"},
	Table:        "data_pms5003",
	Columns:      []string{"sample_time", "serial_number", "pm1", "pm2_5", "pm10", "pn0_3", "pn0_5", "pn1", "pn2_5", "pn5", "pn10"},
}

// OPC-R2 固件输出：标签 + 31 个数值
var alphaSenseSchema = Schema{
	Kind: KindAlphaSense,
	RawFields: []string{FieldSerialNumber, "timeMS",
		"bin0", "bin1", "bin2", "bin3", "bin4", "bin5", "bin6", "bin7",
		"bin8", "bin9", "bin10", "bin11", "bin12", "bin13", "bin14", "bin15",
		"MToF0", "MToF1", "MToF2", "MToF3",
		"sampleFlowRate", "temperature", "relativeHumidity", "samplingPeriod",
		"rejectCountGlitch", "rejectCountTof",
		"PM1", "PM2.5", "PM10", "checksum"},
	OutputFields: []string{FieldTimestamp, FieldSerialNumber, "PM1", "PM2.5", "PM10"},
	Table:        "data_opc_r2",
	Columns:      []string{"sample_time", "serial_number", "pm1", "pm2_5", "pm10"},
}

// SchemaTable 帧长度 -> 设备类型的不可变映射，启动时构建一次后显式传递
type SchemaTable struct {
	byLength map[int]Schema
	byKind   map[DeviceKind]Schema
}

// NewSchemaTable 构建映射，帧长度或类型重复时报错
func NewSchemaTable(schemas ...Schema) (*SchemaTable, error) {
	t := &SchemaTable{
		byLength: make(map[int]Schema, len(schemas)),
		byKind:   make(map[DeviceKind]Schema, len(schemas)),
	}
	for _, s := range schemas {
		if len(s.OutputFields) != len(s.Columns) {
			return nil, fmt.Errorf("schema %s: %d output fields but %d columns", s.Kind, len(s.OutputFields), len(s.Columns))
		}
		if _, dup := t.byLength[s.FrameLength()]; dup {
			return nil, fmt.Errorf("schema %s: duplicate frame length %d", s.Kind, s.FrameLength())
		}
		if _, dup := t.byKind[s.Kind]; dup {
			return nil, fmt.Errorf("schema %s: duplicate kind", s.Kind)
		}
		t.byLength[s.FrameLength()] = s
		t.byKind[s.Kind] = s
	}
	return t, nil
}

// DefaultSchemaTable 10 token -> Plantower，32 token -> AlphaSense
func DefaultSchemaTable() *SchemaTable {
	t, err := NewSchemaTable(plantowerSchema, alphaSenseSchema)
	if err != nil {
		panic(err)
	}
	return t
}

// ByFrameLength 按 token 数查找
func (t *SchemaTable) ByFrameLength(n int) (Schema, bool) {
	s, ok := t.byLength[n]
	return s, ok
}

// ByKind 按类型查找
func (t *SchemaTable) ByKind(k DeviceKind) (Schema, bool) {
	s, ok := t.byKind[k]
	return s, ok
}

// BySensorName 按型号名查找（"PMS5003" / "OPC-R2"）
func (t *SchemaTable) BySensorName(name string) (Schema, bool) {
	for k, s := range t.byKind {
		if k.String() == name {
			return s, true
		}
	}
	return Schema{}, false
}
