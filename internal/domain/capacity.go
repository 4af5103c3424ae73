package domain

import (
	"context"
	"math/big"
	"time"
)

// Admission is the CapacityGate verdict for a requested trade volume.
type Admission int

const (
	Admit Admission = iota
	Reject
)

func (a Admission) String() string {
	if a == Reject {
		return "reject"
	}
	return "admit"
}

// RejectWitness is the witness value that signals capacity exceeded.
const RejectWitness int64 = 1

// CapacityOracle produces a capacity witness for a requested volume.
type CapacityOracle interface {
	Witness(ctx context.Context, amount *big.Int) (int64, error)
}

// BatteryStatus is a device telemetry snapshot.
type BatteryStatus struct {
	DeviceID      string    `json:"deviceId"`
	ChargePercent float64   `json:"chargePercent"`
	CapacityKWh   float64   `json:"capacityKWh"`
	AvailableKWh  float64   `json:"availableKWh"`
	VoltageV      float64   `json:"voltageV"`
	TemperatureC  float64   `json:"temperatureC"`
	Charging      bool      `json:"charging"`
	ReportedAt    time.Time `json:"reportedAt"`
}

// DeviceTelemetry reads battery telemetry for a device.
type DeviceTelemetry interface {
	BatteryStatus(ctx context.Context, deviceID string) (BatteryStatus, error)
}
