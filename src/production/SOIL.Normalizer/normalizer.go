package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	soilmodels "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Models"
)

// ErrMalformedPayload is returned when an inbound event cannot be
// normalized. The caller must drop the event without persisting or
// broadcasting it, but must keep the listener running.
var ErrMalformedPayload = errors.New("malformed sensor payload")

// Descriptive markers carried by non-production readings.
const (
	SampleDebug  = "This is a debug sensor value logged every 10 seconds."
	SampleManual = "This is a sample sensor value."
)

// rawCodeSpan is the value range of the 12-bit moisture sensor code.
const rawCodeSpan = 4096

// envelope is the outer event payload. Data carries the sensor frame as
// a JSON-encoded string, so the full decode is a double unmarshal.
type envelope struct {
	Data        string `json:"data"`
	PublishedAt string `json:"published_at"`
}

// frame is the inner sensor frame. Required numeric fields are pointers
// so that absence is distinguishable from zero.
type frame struct {
	SoilMoisture *float64    `json:"soil_moisture"`
	Voltage      *float64    `json:"voltage"`
	Soc          *float64    `json:"soc"`
	Alert        interface{} `json:"alert"`
	Sample       interface{} `json:"sample"`
}

// NormalizeSoilMoisture rescales a 12-bit raw sensor code to a 0-100
// percentage rounded to one decimal. The +1 offset is a calibration
// constant and must not be simplified away; it changes boundary
// behavior at raw=0.
func NormalizeSoilMoisture(raw float64) float64 {
	return OneDecimal((raw + 1) / rawCodeSpan * 100)
}

// OneDecimal rounds a value to one decimal place.
func OneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}

// FromEvent converts a raw stream event payload into a canonical
// Reading. The id is left unset; persistence assigns it.
func FromEvent(payload []byte) (soilmodels.Reading, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return soilmodels.Reading{}, fmt.Errorf("%w: envelope: %v", ErrMalformedPayload, err)
	}

	var f frame
	if err := json.Unmarshal([]byte(env.Data), &f); err != nil {
		return soilmodels.Reading{}, fmt.Errorf("%w: data frame: %v", ErrMalformedPayload, err)
	}
	if f.SoilMoisture == nil || f.Voltage == nil || f.Soc == nil {
		return soilmodels.Reading{}, fmt.Errorf("%w: missing soil_moisture, voltage or soc", ErrMalformedPayload)
	}

	publishedAt, err := time.Parse(time.RFC3339, env.PublishedAt)
	if err != nil {
		return soilmodels.Reading{}, fmt.Errorf("%w: published_at %q: %v", ErrMalformedPayload, env.PublishedAt, err)
	}

	reading := soilmodels.Reading{
		PublishedAt:          publishedAt.UTC(),
		SoilMoisture:         NormalizeSoilMoisture(*f.SoilMoisture),
		BatteryVoltage:       OneDecimal(*f.Voltage),
		BatteryStateOfCharge: OneDecimal(*f.Soc),
		BatteryAlert:         truthy(f.Alert),
	}
	if truthy(f.Sample) {
		reading.Sample = SampleDebug
	}
	return reading, nil
}

// SampleReading produces a synthetic reading for running without a live
// sensor: fixed battery values, a small pseudo-random jitter off the
// baseline moisture, and the current wall clock as publish time.
func SampleReading(baseline float64, now time.Time) soilmodels.Reading {
	jitter := math.Round((rand.Float64()*11 + 1) / 10)
	return soilmodels.Reading{
		PublishedAt:          now.UTC(),
		SoilMoisture:         OneDecimal(baseline - jitter),
		BatteryVoltage:       4.2,
		BatteryStateOfCharge: 100,
		BatteryAlert:         false,
		Sample:               SampleManual,
	}
}

// truthy coerces a decoded JSON value to a strict boolean, matching
// loose upstream firmware that sends alert as 0/1, "", true or null.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
