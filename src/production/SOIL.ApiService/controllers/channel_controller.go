package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	logger "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Logger"
	interfaces "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Repository/Interfaces"
)

// ChannelController handles channel read requests
type ChannelController struct {
	store        interfaces.ChannelStore
	historyLimit int
	logger       *logger.Logger
}

func NewChannelController(store interfaces.ChannelStore, historyLimit int, log *logger.Logger) *ChannelController {
	return &ChannelController{
		store:        store,
		historyLimit: historyLimit,
		logger:       log.WithComponent("channel-controller"),
	}
}

// RegisterRoutes registers the channel routes with Gin
func (c *ChannelController) RegisterRoutes(router *gin.Engine) {
	channels := router.Group("/channels")
	{
		channels.GET("/:channel/data", c.GetData)
		channels.GET("/:channel/meta", c.GetMeta)
	}
}

func (c *ChannelController) GetData(ctx *gin.Context) {
	channel := ctx.Param("channel")

	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "0"))
	if limit <= 0 || limit > c.historyLimit {
		limit = c.historyLimit
	}

	readings, err := c.store.RecentReadings(ctx, channel, limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"items": readings})
}

func (c *ChannelController) GetMeta(ctx *gin.Context) {
	channel := ctx.Param("channel")

	meta, err := c.store.Meta(ctx, channel)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if meta == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}

	ctx.JSON(http.StatusOK, meta)
}
