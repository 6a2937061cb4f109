package soilmodels

import "time"

// ChannelMeta is the per-channel pointer/state record. LastDataID
// mirrors the id of the most recently persisted Reading; 0 means no
// reading has been persisted yet. PublishedAt is the time of the last
// persistence write, used as a freshness marker. The remaining fields
// are static descriptive configuration set once at startup.
type ChannelMeta struct {
	Channel      string            `bson:"channel" json:"channel"`
	Name         string            `bson:"name" json:"name"`
	Description  string            `bson:"description" json:"description"`
	Timezone     string            `bson:"timezone" json:"timezone"`
	Measurements map[string]string `bson:"measurements" json:"measurements"`
	LastDataID   int64             `bson:"last_data_id" json:"last_data_id"`
	PublishedAt  time.Time         `bson:"published_at,omitempty" json:"published_at,omitempty"`
}
