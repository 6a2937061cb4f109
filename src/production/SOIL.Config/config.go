package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Event stream configuration
	Stream StreamConfig `json:"stream"`

	// Store configuration
	Store StoreConfig `json:"store"`

	// Channel configuration
	Channel ChannelConfig `json:"channel"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// CORS configuration
	CORS CORSConfig `json:"cors"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	AssetsDir    string        `json:"assets_dir"`
}

// StreamConfig holds event-stream related configuration
type StreamConfig struct {
	BaseURL        string        `json:"base_url"`
	DeviceID       string        `json:"device_id"`
	AccessToken    string        `json:"access_token"`
	SampleMode     bool          `json:"sample_mode"`
	SampleInterval time.Duration `json:"sample_interval"`
}

// StoreConfig holds document-store related configuration
type StoreConfig struct {
	URI            string        `json:"uri"`
	Database       string        `json:"database"`
	DataCollection string        `json:"data_collection"`
	MetaCollection string        `json:"meta_collection"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// ChannelConfig holds the static per-channel descriptive configuration.
// These values are written into the channel meta document at startup and
// are read-only thereafter.
type ChannelConfig struct {
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	Timezone         string            `json:"timezone"`
	Measurements     map[string]string `json:"measurements"`
	MoistureBaseline float64           `json:"moisture_baseline"`
	HistoryLimit     int               `json:"history_limit"`

	// Battery state-of-charge category boundaries, in percent.
	BatteryHigh   float64 `json:"battery_high"`
	BatteryMedium float64 `json:"battery_medium"`
	BatteryLow    float64 `json:"battery_low"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout, stderr, or file path
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// Load loads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	if err := godotenv.Load(); err != nil {
		// Silently ignore .env file loading errors
		// This allows the application to work with environment variables set directly
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "1337"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
			AssetsDir:    getEnv("ASSETS_DIR", "public"),
		},
		Stream: StreamConfig{
			BaseURL:        getEnv("STREAM_BASE_URL", "https://api.particle.io/v1/devices/"),
			DeviceID:       getRequiredEnv("DEVICE_ID"),
			AccessToken:    getRequiredEnv("ACCESS_TOKEN"),
			SampleMode:     getBool("SAMPLE_MODE", false),
			SampleInterval: getDuration("SAMPLE_INTERVAL", 10*time.Second),
		},
		Store: StoreConfig{
			URI:            getRequiredEnv("MONGODB_URI"),
			Database:       getEnv("DB_NAME", "soil"),
			DataCollection: getEnv("DATA_COLL_NAME", "data"),
			MetaCollection: getEnv("META_COLL_NAME", "meta"),
			ConnectTimeout: getDuration("STORE_CONNECT_TIMEOUT", 20*time.Second),
		},
		Channel: ChannelConfig{
			Name:        getEnv("CHANNEL_NAME", "basil"),
			Description: getEnv("CHANNEL_DESCRIPTION", "measure soil moisture for plants"),
			Timezone:    getEnv("CHANNEL_TIMEZONE", "Europe/London"),
			Measurements: map[string]string{
				"soil_moisture":           getEnv("UNIT_SOIL_MOISTURE", "%"),
				"battery_voltage":         getEnv("UNIT_BATTERY_VOLTAGE", "V"),
				"battery_state_of_charge": getEnv("UNIT_BATTERY_SOC", "%"),
			},
			MoistureBaseline: getFloat("MOISTURE_BASELINE", 29.4),
			HistoryLimit:     getInt("HISTORY_LIMIT", 30),
			BatteryHigh:      getFloat("BATTERY_HIGH", 75),
			BatteryMedium:    getFloat("BATTERY_MEDIUM", 40),
			BatteryLow:       getFloat("BATTERY_LOW", 15),
		},
		Logging: LoggingConfig{
			Level:        getEnv("LOG_LEVEL", "info"),
			Format:       getEnv("LOG_FORMAT", "text"),
			Output:       getEnv("LOG_OUTPUT", "stdout"),
			EnableCaller: getBool("LOG_ENABLE_CALLER", false),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "OPTIONS"}),
			AllowedHeaders:   getStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept"}),
			ExposedHeaders:   getStringSlice("CORS_EXPOSED_HEADERS", []string{"Content-Length"}),
			AllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getInt("CORS_MAX_AGE", 43200), // 12 hours
		},
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Stream.DeviceID == "" {
		return fmt.Errorf("DEVICE_ID is required")
	}
	if c.Stream.AccessToken == "" {
		return fmt.Errorf("ACCESS_TOKEN is required")
	}
	if c.Store.URI == "" {
		return fmt.Errorf("MONGODB_URI is required")
	}
	if c.Channel.Name == "" {
		return fmt.Errorf("CHANNEL_NAME must not be empty")
	}
	if c.Stream.SampleInterval <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL must be positive")
	}
	if c.Channel.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	return nil
}

// GetStreamURL returns the event stream subscription URL
func (c *Config) GetStreamURL() string {
	return c.Stream.BaseURL + c.Stream.DeviceID + "/events?access_token=" + c.Stream.AccessToken
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("missing required environment variable: %s", key)
	}
	return value
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return floatValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "1" || value == "true" || value == "TRUE" {
		return true
	}
	if value == "0" || value == "false" || value == "FALSE" {
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}

func getStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
