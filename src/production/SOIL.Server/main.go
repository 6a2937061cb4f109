package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.ApiService/controllers"
	broadcast "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Broadcast"
	container "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Container"
	soillistener "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Listener"
	soilmodels "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Models"
	pipeline "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Pipeline"
	timeline "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Timeline"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting soil stream server")

	cfg := ctr.GetConfig()

	// "sample" argv selects synthetic-reading mode on top of the live stream
	sampleMode := cfg.Stream.SampleMode
	if len(os.Args) > 1 && os.Args[1] == "sample" {
		sampleMode = true
	}

	// Connect the store and seed the channel meta document
	store, err := ctr.GetStore()
	if err != nil {
		logger.FatalWithError(err, "Failed to connect channel store")
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	err = store.EnsureMeta(startupCtx, soilmodels.ChannelMeta{
		Channel:      cfg.Channel.Name,
		Name:         cfg.Channel.Name,
		Description:  cfg.Channel.Description,
		Timezone:     cfg.Channel.Timezone,
		Measurements: cfg.Channel.Measurements,
	})
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize channel meta")
	}

	// Root context for the supervised tasks; canceled on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broadcast hub
	hub := broadcast.NewHub(logger)
	go func() {
		_ = hub.Run(ctx)
	}()

	// Presentation collaborator and ingestion pipeline
	tl, err := timeline.New(&cfg.Channel)
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize timeline")
	}
	pipe := pipeline.New(cfg.Channel.Name, store, hub, tl, logger)

	// Stream listener
	listener := soillistener.New(cfg, pipe, logger)
	go func() {
		_ = listener.Run(ctx)
	}()

	// Synthetic sample readings, interleaved with live events
	if sampleMode {
		sampler := soillistener.NewSampler(cfg, pipe, logger)
		go func() {
			_ = sampler.Run(ctx)
		}()
	}

	// Initialize Gin router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// Static viewer assets
	router.Static("/public", cfg.Server.AssetsDir)

	// Create controllers and register routes
	mongoClient, err := ctr.GetMongoClient()
	if err != nil {
		logger.FatalWithError(err, "Failed to get store client")
	}

	liveController := controllers.NewLiveController(hub, store, tl, cfg.Channel.Name, cfg.Channel.HistoryLimit, logger)
	channelController := controllers.NewChannelController(store, cfg.Channel.HistoryLimit, logger)
	healthController := controllers.NewHealthController(mongoClient, listener, hub, logger)

	liveController.RegisterRoutes(router)
	channelController.RegisterRoutes(router)
	healthController.RegisterRoutes(router)

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("HTTP server starting on port " + cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start HTTP server")
		}
	}()

	logger.Info("Soil stream server running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}
}
