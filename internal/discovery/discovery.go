package discovery

import (
	"fmt"
	"sort"
	"strconv"

	"airsense-acquisition/internal/models"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// PortLister 枚举当前串口（测试中替换）
type PortLister func() ([]*enumerator.PortDetails, error)

// Discoverer 设备发现：枚举串口并按 (vendor_id, product_id) 允许列表过滤
// 无副作用，可重复调用
type Discoverer struct {
	allow  models.AllowList
	list   PortLister
	logger *zap.Logger
}

// NewDiscoverer 创建设备发现器，使用系统串口枚举
func NewDiscoverer(allow models.AllowList, logger *zap.Logger) *Discoverer {
	return NewDiscovererWithLister(allow, enumerator.GetDetailedPortsList, logger)
}

// NewDiscovererWithLister 使用自定义枚举函数
func NewDiscovererWithLister(allow models.AllowList, list PortLister, logger *zap.Logger) *Discoverer {
	return &Discoverer{
		allow:  allow,
		list:   list,
		logger: logger,
	}
}

// Discover 返回已连接且受支持的设备，按路径排序；没有兼容硬件时返回空切片
func (d *Discoverer) Discover() ([]models.DeviceDescriptor, error) {
	ports, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	seen := make(map[string]string, len(ports))
	devices := make([]models.DeviceDescriptor, 0, len(ports))
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		vid, err := parseID(p.VID)
		if err != nil {
			continue
		}
		pid, err := parseID(p.PID)
		if err != nil {
			continue
		}
		if !d.allow.Allows(vid, pid) {
			continue
		}

		desc := models.DeviceDescriptor{
			DisplayName:  p.Product,
			Path:         p.Name,
			SerialNumber: p.SerialNumber,
			VendorID:     vid,
			ProductID:    pid,
		}
		key := desc.Key()
		if prev, dup := seen[key]; dup {
			// 同一序列号只保留一个端口（复合设备可能暴露多个 tty）
			d.logger.Warn("Duplicate device serial number, ignoring port",
				zap.String("serial_number", key),
				zap.String("path", p.Name),
				zap.String("kept_path", prev),
			)
			continue
		}
		seen[key] = p.Name
		devices = append(devices, desc)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Path < devices[j].Path
	})
	return devices, nil
}

func parseID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// PortStatus 串口及其是否受支持（诊断用）
type PortStatus struct {
	Path         string
	Product      string
	SerialNumber string
	Signature    models.HardwareSignature
	USB          bool
	Supported    bool
}

// Inventory 列出全部串口，不做过滤，按路径排序
func (d *Discoverer) Inventory() ([]PortStatus, error) {
	ports, err := d.list()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	out := make([]PortStatus, 0, len(ports))
	for _, p := range ports {
		if p == nil {
			continue
		}
		st := PortStatus{Path: p.Name, Product: p.Product, SerialNumber: p.SerialNumber, USB: p.IsUSB}
		if p.IsUSB {
			vid, verr := parseID(p.VID)
			pid, perr := parseID(p.PID)
			if verr == nil && perr == nil {
				st.Signature = models.HardwareSignature{VendorID: vid, ProductID: pid}
				st.Supported = d.allow.Allows(vid, pid)
			}
		}
		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out, nil
}
