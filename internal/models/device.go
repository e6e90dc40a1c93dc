package models

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceDescriptor 一个物理传感器的身份与连接信息，发现后不可变，身份键为 SerialNumber
type DeviceDescriptor struct {
	DisplayName  string
	Path         string // 例如 /dev/ttyACM0
	SerialNumber string
	VendorID     uint16
	ProductID    uint16
}

// Key 身份键：序列号；固件未上报序列号时退化为串口路径
func (d DeviceDescriptor) Key() string {
	if d.SerialNumber != "" {
		return d.SerialNumber
	}
	return "path:" + d.Path
}

// HardwareSignature USB (vendor_id, product_id)
type HardwareSignature struct {
	VendorID  uint16
	ProductID uint16
}

func (s HardwareSignature) String() string {
	return fmt.Sprintf("%04x:%04x", s.VendorID, s.ProductID)
}

// ParseHardwareSignature 解析 "239a:80cb" 形式的十六进制签名
func ParseHardwareSignature(s string) (HardwareSignature, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return HardwareSignature{}, fmt.Errorf("invalid hardware signature %q, want vid:pid", s)
	}
	vid, err := parseHexID(parts[0])
	if err != nil {
		return HardwareSignature{}, fmt.Errorf("invalid vendor id in %q: %w", s, err)
	}
	pid, err := parseHexID(parts[1])
	if err != nil {
		return HardwareSignature{}, fmt.Errorf("invalid product id in %q: %w", s, err)
	}
	return HardwareSignature{VendorID: vid, ProductID: pid}, nil
}

func parseHexID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// AllowList 受支持硬件签名集合
type AllowList map[HardwareSignature]struct{}

// NewAllowList 创建允许列表
func NewAllowList(signatures ...HardwareSignature) AllowList {
	al := make(AllowList, len(signatures))
	for _, s := range signatures {
		al[s] = struct{}{}
	}
	return al
}

// ParseAllowList 解析逗号分隔的 vid:pid 列表
func ParseAllowList(s string) (AllowList, error) {
	var sigs []HardwareSignature
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		sig, err := ParseHardwareSignature(part)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return NewAllowList(sigs...), nil
}

// Allows 判断 vid/pid 是否在允许列表中
func (a AllowList) Allows(vendorID, productID uint16) bool {
	_, ok := a[HardwareSignature{VendorID: vendorID, ProductID: productID}]
	return ok
}
