// Package placements 读取传感器摆放表（CSV：sensor,serial_number,x,y）。
package placements

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"airsense-acquisition/internal/models"
)

var requiredColumns = []string{"sensor", "serial_number", "x", "y"}

// Load 从文件读取摆放表
func Load(path string) ([]models.Placement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open placements file: %w", err)
	}
	defer f.Close()

	placements, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return placements, nil
}

// Parse 解析 CSV；列顺序由表头决定，多余的列忽略
func Parse(r io.Reader) ([]models.Placement, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("placements file is empty")
	}
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("placements header missing column %q", col)
		}
	}

	placements := []models.Placement{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)

		get := func(col string) string {
			i := index[col]
			if i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		x, err := strconv.ParseFloat(get("x"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid x: %w", line, err)
		}
		y, err := strconv.ParseFloat(get("y"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid y: %w", line, err)
		}

		placements = append(placements, models.Placement{
			Sensor:       get("sensor"),
			SerialNumber: get("serial_number"),
			X:            x,
			Y:            y,
		})
	}
	return placements, nil
}
