package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	broadcast "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Broadcast"
	logger "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Logger"
)

// StreamStatus reports whether the upstream event subscription is open.
type StreamStatus interface {
	IsConnected() bool
}

// HealthController reports process health: store reachability, stream
// connectivity and the current viewer count.
type HealthController struct {
	mongoClient *mongo.Client
	stream      StreamStatus
	hub         *broadcast.Hub
	logger      *logger.Logger
}

func NewHealthController(mongoClient *mongo.Client, stream StreamStatus, hub *broadcast.Hub, log *logger.Logger) *HealthController {
	return &HealthController{
		mongoClient: mongoClient,
		stream:      stream,
		hub:         hub,
		logger:      log.WithComponent("health-controller"),
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", c.GetHealth)
}

func (c *HealthController) GetHealth(ctx *gin.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	storeStatus := "connected"
	if err := c.mongoClient.Ping(pingCtx, readpref.Primary()); err != nil {
		c.logger.ErrorWithError(err, "store ping failed")
		storeStatus = "disconnected"
	}

	streamStatus := "disconnected"
	if c.stream != nil && c.stream.IsConnected() {
		streamStatus = "connected"
	}

	status := "healthy"
	code := http.StatusOK
	if storeStatus != "connected" {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	ctx.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": gin.H{
			"store":  storeStatus,
			"stream": streamStatus,
		},
		"viewers": c.hub.ViewerCount(),
	})
}
