package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"airsense-acquisition/common/database"
	"airsense-acquisition/internal/models"

	"go.uber.org/zap"
)

// 读取接口默认值
const (
	DefaultWindow   = 5 * time.Minute
	DefaultRowLimit = 3
)

// ErrUnknownSensor 型号名不对应任何数据表
var ErrUnknownSensor = errors.New("unknown sensor")

// MeasurementRepository 测量数据仓库：每种设备类型一张表
type MeasurementRepository struct {
	db       *sql.DB
	dialect  database.Dialect
	schemas  *models.SchemaTable
	tsLayout string
	inserts  map[models.DeviceKind]string
	logger   *zap.Logger
}

// NewMeasurementRepository 创建测量数据仓库，INSERT 语句在此按 schema 预先生成
func NewMeasurementRepository(db *sql.DB, dialect database.Dialect, schemas *models.SchemaTable, tsLayout string, logger *zap.Logger) *MeasurementRepository {
	r := &MeasurementRepository{
		db:       db,
		dialect:  dialect,
		schemas:  schemas,
		tsLayout: tsLayout,
		inserts:  make(map[models.DeviceKind]string),
		logger:   logger,
	}
	for _, kind := range []models.DeviceKind{models.KindPlantower, models.KindAlphaSense} {
		if s, ok := schemas.ByKind(kind); ok {
			r.inserts[kind] = r.insertQuery(s)
		}
	}
	return r
}

func (r *MeasurementRepository) insertQuery(s models.Schema) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.Table, strings.Join(s.Columns, ", "), r.dialect.Placeholders(len(s.Columns)))
}

// Insert 写入一条记录并提交，失败返回包装了 models.ErrPersistence 的错误
func (r *MeasurementRepository) Insert(ctx context.Context, rec models.Record) error {
	s, ok := r.schemas.ByKind(rec.Kind)
	if !ok {
		return fmt.Errorf("%w: no schema for kind %s", models.ErrPersistence, rec.Kind)
	}
	query, ok := r.inserts[rec.Kind]
	if !ok {
		query = r.insertQuery(s)
	}

	args, err := rec.InsertArgs(s)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", models.ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: insert into %s: %v", models.ErrPersistence, s.Table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", models.ErrPersistence, err)
	}
	return nil
}

// MeanPM25 最近 limit 条、且 sample_time 晚于 since 的 pm2_5 平均值
// 窗口内没有数据时返回 Valid=false
func (r *MeasurementRepository) MeanPM25(ctx context.Context, sensor, serialNumber string, since time.Time, limit int) (sql.NullFloat64, error) {
	s, ok := r.schemas.BySensorName(sensor)
	if !ok {
		return sql.NullFloat64{}, fmt.Errorf("%w: %s", ErrUnknownSensor, sensor)
	}
	if limit <= 0 {
		limit = DefaultRowLimit
	}

	query := fmt.Sprintf(`
		SELECT AVG(pm2_5) FROM (
			SELECT pm2_5 FROM %s
			WHERE serial_number = %s AND sample_time > %s
			ORDER BY sample_time DESC
			LIMIT %s
		) AS recent
	`, s.Table, r.dialect.Placeholder(1), r.dialect.Placeholder(2), r.dialect.Placeholder(3))

	var mean sql.NullFloat64
	err := r.db.QueryRowContext(ctx, query, serialNumber, since.Format(r.tsLayout), limit).Scan(&mean)
	if err != nil {
		return sql.NullFloat64{}, fmt.Errorf("failed to query mean pm2_5 for %s/%s: %w", sensor, serialNumber, err)
	}
	return mean, nil
}

// MeanPM25Many 按 placements 顺序逐个求平均值；未知型号记为无数据
func (r *MeasurementRepository) MeanPM25Many(ctx context.Context, placements []models.Placement, since time.Time, limit int) ([]sql.NullFloat64, error) {
	means := make([]sql.NullFloat64, len(placements))
	for i, p := range placements {
		mean, err := r.MeanPM25(ctx, p.Sensor, p.SerialNumber, since, limit)
		if errors.Is(err, ErrUnknownSensor) {
			r.logger.Warn("Placement references unknown sensor",
				zap.String("sensor", p.Sensor),
				zap.String("serial_number", p.SerialNumber),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		means[i] = mean
	}
	return means, nil
}

// StoredMeasurement 已落库的一行（公共列）
type StoredMeasurement struct {
	SampleTime   string
	SerialNumber string
	PM1          int64
	PM25         int64
	PM10         int64
}

// Latest 某型号最近 limit 行，serialNumber 为空时不按序列号过滤
func (r *MeasurementRepository) Latest(ctx context.Context, sensor, serialNumber string, limit int) ([]StoredMeasurement, error) {
	s, ok := r.schemas.BySensorName(sensor)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSensor, sensor)
	}
	if limit <= 0 {
		limit = DefaultRowLimit
	}

	var rows *sql.Rows
	var err error
	if serialNumber == "" {
		query := fmt.Sprintf(`
			SELECT sample_time, serial_number, pm1, pm2_5, pm10 FROM %s
			ORDER BY sample_time DESC
			LIMIT %s
		`, s.Table, r.dialect.Placeholder(1))
		rows, err = r.db.QueryContext(ctx, query, limit)
	} else {
		query := fmt.Sprintf(`
			SELECT sample_time, serial_number, pm1, pm2_5, pm10 FROM %s
			WHERE serial_number = %s
			ORDER BY sample_time DESC
			LIMIT %s
		`, s.Table, r.dialect.Placeholder(1), r.dialect.Placeholder(2))
		rows, err = r.db.QueryContext(ctx, query, serialNumber, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.Table, err)
	}
	defer rows.Close()

	var out []StoredMeasurement
	for rows.Next() {
		var m StoredMeasurement
		var sampleTime any
		if err := rows.Scan(&sampleTime, &m.SerialNumber, &m.PM1, &m.PM25, &m.PM10); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", s.Table, err)
		}
		m.SampleTime = r.formatSampleTime(sampleTime)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", s.Table, err)
	}
	return out, nil
}

// formatSampleTime 统一为写入时的格式：
// lib/pq 对 TIMESTAMP 列返回 time.Time，SQLite 文本列返回 string 或 []byte
func (r *MeasurementRepository) formatSampleTime(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format(r.tsLayout)
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Ping 检查数据库连接
func (r *MeasurementRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
