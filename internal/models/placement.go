package models

// Placement 传感器在地图上的位置（sensor 为型号名 PMS5003 / OPC-R2）
type Placement struct {
	Sensor       string  `json:"sensor"`
	SerialNumber string  `json:"serial_number"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
}
