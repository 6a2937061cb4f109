package soillistener

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"

	config "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Config"
	logger "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Logger"
	normalizer "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Normalizer"
	pipeline "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Pipeline"
)

// Service owns the long-lived connection to the external event stream
// and drives the ingestion pipeline for each inbound event. A dropped
// connection is re-established immediately and unconditionally: no
// backoff, no retry ceiling, no terminal state short of context
// cancellation.
type Service struct {
	url       string
	channel   string
	pipe      *pipeline.Pipeline
	logger    *logger.Logger
	connected atomic.Bool
}

func New(cfg *config.Config, pipe *pipeline.Pipeline, log *logger.Logger) *Service {
	return &Service{
		url:     cfg.GetStreamURL(),
		channel: cfg.Channel.Name,
		pipe:    pipe,
		logger:  log.WithComponent("stream-listener").WithChannel(cfg.Channel.Name),
	}
}

// NewWithURL builds a listener against an explicit stream URL. Used by
// tests that stand in for the event source.
func NewWithURL(url, channel string, pipe *pipeline.Pipeline, log *logger.Logger) *Service {
	return &Service{
		url:     url,
		channel: channel,
		pipe:    pipe,
		logger:  log.WithComponent("stream-listener").WithChannel(channel),
	}
}

// Run subscribes to the event stream and blocks until the context is
// canceled. Each subscription failure is logged and followed by an
// immediate resubscribe to the same URL; the loop never gives up.
func (s *Service) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		client := sse.NewClient(s.url)
		// The stream is long-lived; the listener owns reconnect policy,
		// so the SSE client must return on the first failure instead of
		// retrying internally.
		client.ReconnectStrategy = &backoff.StopBackOff{}
		client.Connection = &http.Client{}
		client.OnConnect(func(*sse.Client) {
			s.connected.Store(true)
			s.logger.Info("listening to sensor stream")
		})
		client.OnDisconnect(func(*sse.Client) {
			s.connected.Store(false)
		})

		err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
			s.handleEvent(ctx, msg)
		})
		s.connected.Store(false)

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Logger.Error().Err(err).Str("url", s.url).Msg("stream errored, reconnecting")
		} else {
			s.logger.Logger.Warn().Str("url", s.url).Msg("stream closed, reconnecting")
		}
	}
}

// IsConnected reports whether the stream subscription is currently open.
func (s *Service) IsConnected() bool {
	return s.connected.Load()
}

// handleEvent runs the pipeline for events tagged with the channel
// name. A malformed payload is logged and dropped without reaching
// persistence or broadcast; it never takes the listener down.
func (s *Service) handleEvent(ctx context.Context, msg *sse.Event) {
	if string(msg.Event) != s.channel {
		return
	}

	reading, err := normalizer.FromEvent(msg.Data)
	if err != nil {
		s.logger.Logger.Error().Err(err).Str("payload", string(msg.Data)).Msg("dropping event")
		return
	}

	s.pipe.Process(ctx, reading)
}
