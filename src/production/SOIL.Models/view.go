package soilmodels

import "time"

// ReadingView is the derived display payload pushed to connected
// viewers for every normalized reading, whether or not it was accepted
// for persistence.
type ReadingView struct {
	SoilMoisture         float64   `json:"soil_moisture"`
	PublishedAt          time.Time `json:"published_at"`
	Status               string    `json:"status"`
	DisplayDate          string    `json:"display_date"`
	StateOfChargeDisplay string    `json:"state_of_charge_display"`
	BatteryStatus        string    `json:"battery_status"`
	Sample               string    `json:"sample,omitempty"`
}

// BatteryThresholds are the state-of-charge category boundaries used
// for viewer presentation.
type BatteryThresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
	Low    float64 `json:"low"`
}

// InitPayload is pushed to a viewer once on connect: recent history
// plus the presentation configuration the client renders with.
type InitPayload struct {
	Meta       ChannelMeta       `json:"meta"`
	Readings   []Reading         `json:"readings"`
	Thresholds BatteryThresholds `json:"thresholds"`
}
