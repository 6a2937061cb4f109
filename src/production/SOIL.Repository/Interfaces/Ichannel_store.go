package interfaces

import (
	"context"
	"time"

	soilmodels "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Models"
)

// ChannelStore is the path-addressed remote document store scoped to a
// channel: {channel}/meta/* point reads/writes and {channel}/data/{id}
// point reads/writes. All reads are single-shot, not subscriptions.
type ChannelStore interface {
	// Meta pointer operations
	LastDataID(ctx context.Context, channel string) (int64, error)
	SetLastDataID(ctx context.Context, channel string, id int64) error
	SetPublishedAt(ctx context.Context, channel string, t time.Time) error

	// Meta document lifecycle
	EnsureMeta(ctx context.Context, meta soilmodels.ChannelMeta) error
	Meta(ctx context.Context, channel string) (*soilmodels.ChannelMeta, error)

	// Reading operations
	PutReading(ctx context.Context, channel string, reading soilmodels.Reading) error
	Reading(ctx context.Context, channel string, id int64) (*soilmodels.Reading, error)
	RecentReadings(ctx context.Context, channel string, limit int) ([]soilmodels.Reading, error)
}
