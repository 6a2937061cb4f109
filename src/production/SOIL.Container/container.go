package container

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"

	config "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Config"
	logger "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Logger"
	implementation "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Repository/Implementation"
	interfaces "gitlab.com/verdantsense/soil.stream_server/src/production/SOIL.Repository/Interfaces"
)

// Container manages dependencies and their lifecycle
type Container struct {
	config *config.Config
	logger *logger.Logger

	mongoClient *mongo.Client
	store       interfaces.ChannelStore

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions
	cleanupFuncs []func() error
}

// NewContainer creates a new dependency injection container
func NewContainer() (*Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging)

	return &Container{
		config: cfg,
		logger: log,
	}, nil
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetMongoClient returns the MongoDB client, connecting on first use
func (c *Container) GetMongoClient() (*mongo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mongoClient == nil {
		client, err := implementation.ConnectWithTimeout(&c.config.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to store: %w", err)
		}
		c.mongoClient = client
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			return client.Disconnect(context.Background())
		})
	}

	return c.mongoClient, nil
}

// GetStore returns the channel store
func (c *Container) GetStore() (interfaces.ChannelStore, error) {
	client, err := c.GetMongoClient()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		data, meta := implementation.Collections(client, &c.config.Store)
		c.store = implementation.NewMongoChannelStore(data, meta)
	}

	return c.store, nil
}

// AddCleanupFunc adds a cleanup function
func (c *Container) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	defer c.mu.Unlock()

	// Execute cleanup functions in reverse order
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}
