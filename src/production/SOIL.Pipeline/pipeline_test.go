package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	config "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Config"
	logger "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Logger"
	soilmodels "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Models"
	timeline "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Timeline"
)

const testChannel = "basil"

var (
	t0 = time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	t1 = time.Date(2026, 8, 30, 10, 10, 0, 0, time.UTC)
	t2 = time.Date(2026, 8, 30, 10, 20, 0, 0, time.UTC)
)

// fakeStore is an in-memory ChannelStore with per-operation error
// injection.
type fakeStore struct {
	readings   map[int64]soilmodels.Reading
	lastDataID int64
	metaStamp  time.Time

	failLastDataID bool
	failPutReading bool
	failSetLastID  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{readings: make(map[int64]soilmodels.Reading)}
}

func (s *fakeStore) LastDataID(ctx context.Context, channel string) (int64, error) {
	if s.failLastDataID {
		return 0, errors.New("store unavailable")
	}
	return s.lastDataID, nil
}

func (s *fakeStore) SetLastDataID(ctx context.Context, channel string, id int64) error {
	if s.failSetLastID {
		return errors.New("store unavailable")
	}
	s.lastDataID = id
	return nil
}

func (s *fakeStore) SetPublishedAt(ctx context.Context, channel string, t time.Time) error {
	s.metaStamp = t
	return nil
}

func (s *fakeStore) EnsureMeta(ctx context.Context, meta soilmodels.ChannelMeta) error {
	return nil
}

func (s *fakeStore) Meta(ctx context.Context, channel string) (*soilmodels.ChannelMeta, error) {
	return &soilmodels.ChannelMeta{Channel: channel, LastDataID: s.lastDataID}, nil
}

func (s *fakeStore) PutReading(ctx context.Context, channel string, reading soilmodels.Reading) error {
	if s.failPutReading {
		return errors.New("store unavailable")
	}
	s.readings[reading.ID] = reading
	return nil
}

func (s *fakeStore) Reading(ctx context.Context, channel string, id int64) (*soilmodels.Reading, error) {
	if s.failLastDataID {
		return nil, errors.New("store unavailable")
	}
	reading, ok := s.readings[id]
	if !ok {
		return nil, nil
	}
	return &reading, nil
}

func (s *fakeStore) RecentReadings(ctx context.Context, channel string, limit int) ([]soilmodels.Reading, error) {
	var out []soilmodels.Reading
	for id := s.lastDataID; id > 0 && len(out) < limit; id-- {
		if r, ok := s.readings[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// recordingHub captures broadcast view models.
type recordingHub struct {
	views []soilmodels.ReadingView
}

func (h *recordingHub) BroadcastReading(view soilmodels.ReadingView) {
	h.views = append(h.views, view)
}

func newTestPipeline(t *testing.T, store *fakeStore, hub *recordingHub) *Pipeline {
	t.Helper()
	tl, err := timeline.New(&config.ChannelConfig{
		Timezone: "UTC",
		Measurements: map[string]string{
			"battery_state_of_charge": "%",
		},
		BatteryHigh:   75,
		BatteryMedium: 40,
		BatteryLow:    15,
	})
	if err != nil {
		t.Fatalf("timeline.New: %v", err)
	}
	p := New(testChannel, store, hub, tl, logger.NewDiscardLogger())
	p.now = func() time.Time { return t2 }
	return p
}

func reading(moisture float64, at time.Time) soilmodels.Reading {
	return soilmodels.Reading{
		PublishedAt:          at,
		SoilMoisture:         moisture,
		BatteryVoltage:       4.2,
		BatteryStateOfCharge: 87.3,
	}
}

func TestShouldAppend(t *testing.T) {
	last := reading(50.0, t0)

	cases := []struct {
		name string
		next soilmodels.Reading
		want bool
	}{
		{"same timestamp, same moisture", reading(50.0, t0), false},
		{"new timestamp, same moisture", reading(50.0, t1), false},
		{"same timestamp, new moisture", reading(53.7, t0), false},
		{"new timestamp, new moisture", reading(53.7, t1), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ShouldAppend(c.next, last); got != c.want {
				t.Errorf("ShouldAppend = %v, want %v", got, c.want)
			}
		})
	}
}

func TestShouldAppend_BatteryFieldsNeverGate(t *testing.T) {
	last := reading(50.0, t0)

	next := reading(50.0, t1)
	next.BatteryVoltage = 3.1
	next.BatteryStateOfCharge = 12.0
	next.BatteryAlert = true

	if ShouldAppend(next, last) {
		t.Error("battery changes alone must not cause acceptance")
	}
}

func TestProcess_FirstReadingAlwaysAccepted(t *testing.T) {
	store := newFakeStore()
	hub := &recordingHub{}
	pipe := newTestPipeline(t, store, hub)

	pipe.Process(context.Background(), reading(50.0, t0))

	if store.lastDataID != 1 {
		t.Fatalf("last_data_id = %d, want 1", store.lastDataID)
	}
	persisted, ok := store.readings[1]
	if !ok {
		t.Fatal("reading 1 not persisted")
	}
	if persisted.SoilMoisture != 50.0 || !persisted.PublishedAt.Equal(t0) {
		t.Errorf("persisted %+v, want moisture 50.0 at %v", persisted, t0)
	}
	if !store.metaStamp.Equal(t2) {
		t.Errorf("meta published_at = %v, want %v", store.metaStamp, t2)
	}
	if len(hub.views) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(hub.views))
	}
}

func TestProcess_RedeliveryIsIdempotent(t *testing.T) {
	store := newFakeStore()
	hub := &recordingHub{}
	pipe := newTestPipeline(t, store, hub)

	for i := 0; i < 5; i++ {
		pipe.Process(context.Background(), reading(50.0, t0))
	}

	if store.lastDataID != 1 {
		t.Errorf("last_data_id = %d, want 1 after redeliveries", store.lastDataID)
	}
	if len(store.readings) != 1 {
		t.Errorf("persisted %d readings, want 1", len(store.readings))
	}
	if len(hub.views) != 5 {
		t.Errorf("broadcasts = %d, want 5: every event reaches viewers", len(hub.views))
	}
}

func TestProcess_ConjunctiveAcceptance(t *testing.T) {
	store := newFakeStore()
	hub := &recordingHub{}
	pipe := newTestPipeline(t, store, hub)

	pipe.Process(context.Background(), reading(50.0, t0))

	// New timestamp but identical moisture: rejected, still broadcast.
	pipe.Process(context.Background(), reading(50.0, t1))
	if store.lastDataID != 1 {
		t.Errorf("timestamp-only change persisted, last_data_id = %d", store.lastDataID)
	}

	// New moisture but identical timestamp: rejected.
	pipe.Process(context.Background(), reading(53.7, t0))
	if store.lastDataID != 1 {
		t.Errorf("moisture-only change persisted, last_data_id = %d", store.lastDataID)
	}

	// Both changed: accepted.
	pipe.Process(context.Background(), reading(53.7, t1))
	if store.lastDataID != 2 {
		t.Errorf("last_data_id = %d, want 2", store.lastDataID)
	}

	if len(hub.views) != 4 {
		t.Errorf("broadcasts = %d, want 4", len(hub.views))
	}
}

func TestProcess_SequentialIDsWithoutGaps(t *testing.T) {
	store := newFakeStore()
	hub := &recordingHub{}
	pipe := newTestPipeline(t, store, hub)

	moisture := 10.0
	at := t0
	for i := 0; i < 10; i++ {
		pipe.Process(context.Background(), reading(moisture, at))
		moisture += 1.1
		at = at.Add(time.Minute)
	}

	if store.lastDataID != 10 {
		t.Fatalf("last_data_id = %d, want 10", store.lastDataID)
	}
	for id := int64(1); id <= 10; id++ {
		if _, ok := store.readings[id]; !ok {
			t.Errorf("missing reading id %d: ids must be gap-free", id)
		}
	}
}

func TestProcess_DataWriteFailureSkipsMeta(t *testing.T) {
	store := newFakeStore()
	hub := &recordingHub{}
	pipe := newTestPipeline(t, store, hub)

	store.failPutReading = true
	pipe.Process(context.Background(), reading(50.0, t0))

	if store.lastDataID != 0 {
		t.Errorf("meta advanced past a failed data write: last_data_id = %d", store.lastDataID)
	}
	if !store.metaStamp.IsZero() {
		t.Error("meta published_at stamped despite failed data write")
	}
	if len(hub.views) != 1 {
		t.Errorf("broadcasts = %d, want 1: store failure must not block viewers", len(hub.views))
	}
}

func TestProcess_MetaFailureKeepsReading(t *testing.T) {
	store := newFakeStore()
	hub := &recordingHub{}
	pipe := newTestPipeline(t, store, hub)

	store.failSetLastID = true
	pipe.Process(context.Background(), reading(50.0, t0))

	if _, ok := store.readings[1]; !ok {
		t.Error("reading rolled back after meta failure; drift is accepted, rollback is not")
	}
	if store.lastDataID != 0 {
		t.Errorf("last_data_id = %d, want 0 after failed pointer write", store.lastDataID)
	}
}

func TestProcess_StoreReadFailureStillBroadcasts(t *testing.T) {
	store := newFakeStore()
	hub := &recordingHub{}
	pipe := newTestPipeline(t, store, hub)

	store.failLastDataID = true
	pipe.Process(context.Background(), reading(50.0, t0))

	if len(store.readings) != 0 {
		t.Error("reading persisted despite unreadable meta pointer")
	}
	if len(hub.views) != 1 {
		t.Errorf("broadcasts = %d, want 1", len(hub.views))
	}
}

// The end-to-end acceptance scenario: first reading accepted as id 1, a
// duplicate redelivery rejected but still broadcast, then a genuinely
// new reading accepted as id 2.
func TestProcess_AcceptanceScenario(t *testing.T) {
	store := newFakeStore()
	hub := &recordingHub{}
	pipe := newTestPipeline(t, store, hub)

	pipe.Process(context.Background(), reading(50.0, t0))
	if store.lastDataID != 1 {
		t.Fatalf("after first event: last_data_id = %d, want 1", store.lastDataID)
	}

	pipe.Process(context.Background(), reading(50.0, t0))
	if store.lastDataID != 1 {
		t.Fatalf("after duplicate: last_data_id = %d, want 1", store.lastDataID)
	}
	if len(hub.views) != 2 {
		t.Fatalf("after duplicate: broadcasts = %d, want 2", len(hub.views))
	}

	pipe.Process(context.Background(), reading(53.7, t1))
	if store.lastDataID != 2 {
		t.Fatalf("after new reading: last_data_id = %d, want 2", store.lastDataID)
	}
	if got := store.readings[2]; got.ID != 2 || got.SoilMoisture != 53.7 {
		t.Errorf("reading 2 = %+v, want id 2 with moisture 53.7", got)
	}
}
