package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	broadcast "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Broadcast"
	logger "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Logger"
	soilmodels "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Models"
	interfaces "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Repository/Interfaces"
	timeline "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Timeline"
)

// LiveController upgrades viewer connections and hands them to the
// broadcast hub. On connect the viewer receives an init payload with
// recent history and presentation configuration before live data
// events start flowing.
type LiveController struct {
	hub          *broadcast.Hub
	store        interfaces.ChannelStore
	timeline     *timeline.Timeline
	channel      string
	historyLimit int
	logger       *logger.Logger
	upgrader     websocket.Upgrader
}

func NewLiveController(hub *broadcast.Hub, store interfaces.ChannelStore, tl *timeline.Timeline, channel string, historyLimit int, log *logger.Logger) *LiveController {
	return &LiveController{
		hub:          hub,
		store:        store,
		timeline:     tl,
		channel:      channel,
		historyLimit: historyLimit,
		logger:       log.WithComponent("live-controller"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the live viewer routes with Gin
func (c *LiveController) RegisterRoutes(router *gin.Engine) {
	router.GET("/live", c.Connect)
}

func (c *LiveController) Connect(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.logger.ErrorWithError(err, "viewer upgrade failed")
		return
	}

	client := broadcast.NewClient(c.hub, conn, c.logger)
	c.hub.Register(client)
	client.Send(broadcast.Message{
		Type: broadcast.MessageTypeInit,
		Data: c.initPayload(ctx),
	})
	client.Start()
}

// initPayload assembles recent history plus presentation configuration.
// Store failures degrade to an empty history rather than failing the
// connect; the viewer still gets live events.
func (c *LiveController) initPayload(ctx *gin.Context) soilmodels.InitPayload {
	payload := soilmodels.InitPayload{
		Thresholds: c.timeline.Thresholds(),
	}

	meta, err := c.store.Meta(ctx, c.channel)
	if err != nil {
		c.logger.ErrorWithError(err, "failed to read channel meta for init payload")
	} else if meta != nil {
		payload.Meta = *meta
	}

	readings, err := c.store.RecentReadings(ctx, c.channel, c.historyLimit)
	if err != nil {
		c.logger.ErrorWithError(err, "failed to read history for init payload")
	} else {
		payload.Readings = readings
	}

	return payload
}
