package soilmodels

import "time"

// Reading is one normalized sensor observation. A Reading is immutable
// once persisted; its ID is assigned by the persistence appender, never
// by the producer.
type Reading struct {
	ID                   int64     `bson:"id,omitempty" json:"id,omitempty"`
	PublishedAt          time.Time `bson:"published_at" json:"published_at"`
	SoilMoisture         float64   `bson:"soil_moisture" json:"soil_moisture"`
	BatteryVoltage       float64   `bson:"battery_voltage" json:"battery_voltage"`
	BatteryStateOfCharge float64   `bson:"battery_state_of_charge" json:"battery_state_of_charge"`
	BatteryAlert         bool      `bson:"battery_alert" json:"battery_alert"`
	Sample               string    `bson:"sample,omitempty" json:"sample,omitempty"`
}

// IsSample reports whether the reading is synthetic or debug-frequency
// rather than a normal production reading.
func (r Reading) IsSample() bool {
	return r.Sample != ""
}
