package soillistener

import (
	"context"
	"time"

	config "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Config"
	logger "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Logger"
	normalizer "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Normalizer"
	pipeline "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Pipeline"
)

// Sampler injects synthetic readings through the same pipeline on a
// fixed period, for running without a live sensor. It interleaves with
// live stream events rather than replacing them.
type Sampler struct {
	baseline float64
	interval time.Duration
	pipe     *pipeline.Pipeline
	logger   *logger.Logger
}

func NewSampler(cfg *config.Config, pipe *pipeline.Pipeline, log *logger.Logger) *Sampler {
	return &Sampler{
		baseline: cfg.Channel.MoistureBaseline,
		interval: cfg.Stream.SampleInterval,
		pipe:     pipe,
		logger:   log.WithComponent("sampler"),
	}
}

// Run emits one synthetic reading per interval until the context is
// canceled.
func (s *Sampler) Run(ctx context.Context) error {
	s.logger.Info("sample mode active, generating synthetic readings")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.pipe.Process(ctx, normalizer.SampleReading(s.baseline, now))
		}
	}
}
