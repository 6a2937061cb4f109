package timeline

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	config "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Config"
	soilmodels "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Models"
)

// Battery level categories derived from state of charge.
const (
	BatteryHigh     = "high"
	BatteryMedium   = "medium"
	BatteryLow      = "low"
	BatteryCritical = "critical"
)

// Reading display statuses.
const (
	StatusChanged   = "changed"
	StatusUnchanged = "unchanged"
)

const displayDateFormat = "Jan 2, 2006 3:04 PM"

// Timeline derives display fields for viewer-facing payloads: reading
// status, formatted publish dates in the channel timezone, state of
// charge and battery category. Status tracking keeps the last observed
// moisture per channel, so Status is stateful across calls.
type Timeline struct {
	location   *time.Location
	units      map[string]string
	thresholds soilmodels.BatteryThresholds

	mu   sync.Mutex
	last map[string]float64
	seen map[string]bool
}

func New(cfg *config.ChannelConfig) (*Timeline, error) {
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid channel timezone %q: %w", cfg.Timezone, err)
	}
	return &Timeline{
		location: location,
		units:    cfg.Measurements,
		thresholds: soilmodels.BatteryThresholds{
			High:   cfg.BatteryHigh,
			Medium: cfg.BatteryMedium,
			Low:    cfg.BatteryLow,
		},
		last: make(map[string]float64),
		seen: make(map[string]bool),
	}, nil
}

// Status reports whether the reading's moisture moved since the last
// reading observed for the channel. The first reading of a channel is
// always "changed".
func (t *Timeline) Status(reading soilmodels.Reading, channel string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := StatusChanged
	if t.seen[channel] && t.last[channel] == reading.SoilMoisture {
		status = StatusUnchanged
	}
	t.last[channel] = reading.SoilMoisture
	t.seen[channel] = true
	return status
}

// PublishedDate formats a publish timestamp in the channel timezone.
func (t *Timeline) PublishedDate(at time.Time) string {
	return at.In(t.location).Format(displayDateFormat)
}

// SOC formats a state-of-charge value with its measurement unit.
func (t *Timeline) SOC(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64) + t.units["battery_state_of_charge"]
}

// BatteryStatus buckets a state-of-charge percentage into a display
// category.
func (t *Timeline) BatteryStatus(value float64) string {
	switch {
	case value >= t.thresholds.High:
		return BatteryHigh
	case value >= t.thresholds.Medium:
		return BatteryMedium
	case value >= t.thresholds.Low:
		return BatteryLow
	default:
		return BatteryCritical
	}
}

// Thresholds returns the battery category boundaries for viewer init
// payloads.
func (t *Timeline) Thresholds() soilmodels.BatteryThresholds {
	return t.thresholds
}

// View assembles the broadcast view model for a normalized reading.
func (t *Timeline) View(reading soilmodels.Reading, channel string) soilmodels.ReadingView {
	return soilmodels.ReadingView{
		SoilMoisture:         reading.SoilMoisture,
		PublishedAt:          reading.PublishedAt,
		Status:               t.Status(reading, channel),
		DisplayDate:          t.PublishedDate(reading.PublishedAt),
		StateOfChargeDisplay: t.SOC(reading.BatteryStateOfCharge),
		BatteryStatus:        t.BatteryStatus(reading.BatteryStateOfCharge),
		Sample:               reading.Sample,
	}
}
