package pipeline

import (
	"context"
	"time"

	logger "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Logger"
	soilmodels "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Models"
	interfaces "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Repository/Interfaces"
	timeline "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Timeline"
)

// Broadcaster pushes a derived reading view to all connected viewers.
type Broadcaster interface {
	BroadcastReading(view soilmodels.ReadingView)
}

// Pipeline runs the per-event normalize-detect-persist-broadcast cycle
// for one channel. Event handling is sequential: each reading runs the
// full cycle before the next is processed.
type Pipeline struct {
	channel  string
	store    interfaces.ChannelStore
	hub      Broadcaster
	timeline *timeline.Timeline
	logger   *logger.Logger

	// now is the wall clock for meta publish stamps, injectable in tests.
	now func() time.Time
}

func New(channel string, store interfaces.ChannelStore, hub Broadcaster, tl *timeline.Timeline, log *logger.Logger) *Pipeline {
	return &Pipeline{
		channel:  channel,
		store:    store,
		hub:      hub,
		timeline: tl,
		logger:   log.WithChannel(channel),
		now:      time.Now,
	}
}

// Process handles one normalized reading: change detection, conditional
// append, then an unconditional broadcast to viewers. Store failures
// abort only the remainder of the append; the broadcast tells viewers
// what the sensor said regardless of whether persistence accepted it.
func (p *Pipeline) Process(ctx context.Context, reading soilmodels.Reading) {
	p.logReading(reading)
	p.persist(ctx, reading)
	p.hub.BroadcastReading(p.timeline.View(reading, p.channel))
}

// persist runs the detect-then-append protocol against the store.
func (p *Pipeline) persist(ctx context.Context, reading soilmodels.Reading) {
	lastID, err := p.store.LastDataID(ctx, p.channel)
	if err != nil {
		p.logger.ErrorWithError(err, "failed to read last data id, skipping persistence")
		return
	}

	if lastID == 0 {
		// First-ever reading for the channel is always accepted.
		p.append(ctx, lastID, reading)
		return
	}

	last, err := p.store.Reading(ctx, p.channel, lastID)
	if err != nil {
		p.logger.ErrorWithError(err, "failed to read last reading, skipping persistence")
		return
	}
	if last == nil {
		// The pointer is ahead of the data; last_data_id is advisory,
		// so treat the reading as the first and let the ids recover.
		p.append(ctx, lastID, reading)
		return
	}

	if !ShouldAppend(reading, *last) {
		p.logger.Logger.Debug().
			Time("published_at", reading.PublishedAt).
			Float64("soil_moisture", reading.SoilMoisture).
			Msg("duplicate delivery, not persisted")
		return
	}

	p.append(ctx, lastID, reading)
}

// append assigns the next sequential id, writes the reading, then
// advances the meta pointers. The data write must complete before the
// pointers move: a failed data write skips the meta update entirely,
// while a failed meta update leaves the already-written reading in
// place as eventually-reconcilable drift.
func (p *Pipeline) append(ctx context.Context, lastID int64, reading soilmodels.Reading) {
	reading.ID = lastID + 1

	if err := p.store.PutReading(ctx, p.channel, reading); err != nil {
		p.logger.ErrorWithError(err, "failed to write reading, meta update skipped")
		return
	}

	if err := p.store.SetLastDataID(ctx, p.channel, reading.ID); err != nil {
		p.logger.ErrorWithError(err, "failed to advance last data id")
	}
	if err := p.store.SetPublishedAt(ctx, p.channel, p.now()); err != nil {
		p.logger.ErrorWithError(err, "failed to stamp meta publish time")
	}

	p.logger.Logger.Info().Int64("id", reading.ID).Float64("soil_moisture", reading.SoilMoisture).Msg("reading persisted")
}

func (p *Pipeline) logReading(reading soilmodels.Reading) {
	event := p.logger.Logger.Info().
		Float64("soil_moisture", reading.SoilMoisture).
		Float64("state_of_charge", reading.BatteryStateOfCharge)
	if reading.IsSample() {
		event = event.Bool("sample", true)
	}
	event.Msg("reading received")
}
