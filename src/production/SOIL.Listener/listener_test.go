package soillistener

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	config "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Config"
	logger "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Logger"
	soilmodels "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Models"
	pipeline "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Pipeline"
	timeline "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Timeline"
)

// memStore is a mutex-guarded in-memory ChannelStore. Event handling
// runs on the stream goroutine while assertions run on the test
// goroutine, so every access locks.
type memStore struct {
	mu         sync.Mutex
	readings   map[int64]soilmodels.Reading
	lastDataID int64
}

func newMemStore() *memStore {
	return &memStore{readings: make(map[int64]soilmodels.Reading)}
}

func (s *memStore) LastDataID(ctx context.Context, channel string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDataID, nil
}

func (s *memStore) SetLastDataID(ctx context.Context, channel string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDataID = id
	return nil
}

func (s *memStore) SetPublishedAt(ctx context.Context, channel string, t time.Time) error {
	return nil
}

func (s *memStore) EnsureMeta(ctx context.Context, meta soilmodels.ChannelMeta) error {
	return nil
}

func (s *memStore) Meta(ctx context.Context, channel string) (*soilmodels.ChannelMeta, error) {
	return nil, nil
}

func (s *memStore) PutReading(ctx context.Context, channel string, reading soilmodels.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[reading.ID] = reading
	return nil
}

func (s *memStore) Reading(ctx context.Context, channel string, id int64) (*soilmodels.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reading, ok := s.readings[id]
	if !ok {
		return nil, nil
	}
	return &reading, nil
}

func (s *memStore) RecentReadings(ctx context.Context, channel string, limit int) ([]soilmodels.Reading, error) {
	return nil, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

func (s *memStore) reading(id int64) (soilmodels.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.readings[id]
	return r, ok
}

type countingHub struct {
	broadcasts atomic.Int64
}

func (h *countingHub) BroadcastReading(view soilmodels.ReadingView) {
	h.broadcasts.Add(1)
}

func newListenerPipeline(t *testing.T, store *memStore, hub *countingHub) *pipeline.Pipeline {
	t.Helper()
	tl, err := timeline.New(&config.ChannelConfig{
		Timezone:     "UTC",
		Measurements: map[string]string{"battery_state_of_charge": "%"},
	})
	if err != nil {
		t.Fatalf("timeline.New: %v", err)
	}
	return pipeline.New("basil", store, hub, tl, logger.NewDiscardLogger())
}

// sseEvent formats one server-sent event carrying the double-encoded
// sensor payload.
func sseEvent(name string, moisture float64, at string) string {
	inner := fmt.Sprintf(`{"soil_moisture":%g,"voltage":4.18,"soc":87.3,"alert":0}`, moisture)
	envelope := fmt.Sprintf(`{"data":%q,"published_at":%q}`, inner, at)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", name, envelope)
}

// streamServer serves a fixed set of events per connection and counts
// connections.
func streamServer(t *testing.T, events []string, connections *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connections.Add(1)

		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer does not support flushing")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for _, event := range events {
			fmt.Fprint(w, event)
			flusher.Flush()
		}
		// Returning closes the stream; the listener should reconnect.
	}))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRun_ProcessesChannelEvents(t *testing.T) {
	store := newMemStore()
	hub := &countingHub{}

	var connections atomic.Int64
	srv := streamServer(t, []string{
		sseEvent("basil", 2047, "2026-08-30T10:00:00Z"),
	}, &connections)
	defer srv.Close()

	svc := NewWithURL(srv.URL, "basil", newListenerPipeline(t, store, hub), logger.NewDiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	waitFor(t, 3*time.Second, func() bool { return store.count() >= 1 }, "no reading persisted")

	got, ok := store.reading(1)
	if !ok {
		t.Fatal("reading 1 missing")
	}
	if got.SoilMoisture != 50.0 {
		t.Errorf("SoilMoisture = %v, want 50.0", got.SoilMoisture)
	}
	if got.BatteryVoltage != 4.2 {
		t.Errorf("BatteryVoltage = %v, want 4.2", got.BatteryVoltage)
	}
	if hub.broadcasts.Load() < 1 {
		t.Error("no broadcast for processed event")
	}
}

func TestRun_ReconnectsAfterStreamClose(t *testing.T) {
	store := newMemStore()
	hub := &countingHub{}

	var connections atomic.Int64
	srv := streamServer(t, nil, &connections)
	defer srv.Close()

	svc := NewWithURL(srv.URL, "basil", newListenerPipeline(t, store, hub), logger.NewDiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	waitFor(t, 3*time.Second, func() bool { return connections.Load() >= 2 },
		"listener did not reconnect after server closed the stream")
}

func TestRun_IgnoresOtherEventNames(t *testing.T) {
	store := newMemStore()
	hub := &countingHub{}

	var connections atomic.Int64
	srv := streamServer(t, []string{
		sseEvent("mint", 2047, "2026-08-30T10:00:00Z"),
		sseEvent("basil", 2200, "2026-08-30T10:10:00Z"),
	}, &connections)
	defer srv.Close()

	svc := NewWithURL(srv.URL, "basil", newListenerPipeline(t, store, hub), logger.NewDiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	waitFor(t, 3*time.Second, func() bool { return store.count() >= 1 }, "no reading persisted")

	got, _ := store.reading(1)
	if got.SoilMoisture != 53.7 {
		t.Errorf("SoilMoisture = %v, want 53.7 from the matching event only", got.SoilMoisture)
	}
	if store.count() != 1 {
		t.Errorf("persisted %d readings, want 1", store.count())
	}
}

func TestRun_DropsMalformedEvents(t *testing.T) {
	store := newMemStore()
	hub := &countingHub{}

	var connections atomic.Int64
	srv := streamServer(t, []string{
		"event: basil\ndata: not json at all\n\n",
		sseEvent("basil", 2047, "2026-08-30T10:00:00Z"),
	}, &connections)
	defer srv.Close()

	svc := NewWithURL(srv.URL, "basil", newListenerPipeline(t, store, hub), logger.NewDiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	// The malformed event must not kill the listener; the valid event
	// after it still lands.
	waitFor(t, 3*time.Second, func() bool { return store.count() >= 1 },
		"valid event after a malformed one never persisted")

	got, _ := store.reading(1)
	if got.SoilMoisture != 50.0 {
		t.Errorf("SoilMoisture = %v, want 50.0", got.SoilMoisture)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	store := newMemStore()
	hub := &countingHub{}

	var connections atomic.Int64
	srv := streamServer(t, nil, &connections)
	defer srv.Close()

	svc := NewWithURL(srv.URL, "basil", newListenerPipeline(t, store, hub), logger.NewDiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	waitFor(t, 3*time.Second, func() bool { return connections.Load() >= 1 }, "listener never connected")
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if svc.IsConnected() {
		t.Error("IsConnected = true after shutdown")
	}
}
