// Package config provides XML-based configuration management for the upload queue service.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/vm-uploader/backend/internal/queue"
	"github.com/vm-uploader/backend/internal/session"
	"github.com/vm-uploader/backend/internal/submission"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"UploadQueue"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Progress simulator configuration
	Simulator SimulatorConfig `xml:"Simulator"`

	// Submission gate configuration
	Submission SubmissionConfig `xml:"Submission"`

	// Analyst notifier configuration
	Notifier NotifierConfig `xml:"Notifier"`

	// Session configuration
	Sessions SessionsConfig `xml:"Sessions"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// SimulatorConfig controls simulated upload progress
type SimulatorConfig struct {
	StepPercent    int `xml:"StepPercent"`
	IntervalMillis int `xml:"IntervalMilliseconds"`
}

// SubmissionConfig controls the submission gate
type SubmissionConfig struct {
	ClearQueueOnSubmit bool   `xml:"ClearQueueOnSubmit"`
	RequireComplete    bool   `xml:"RequireAllComplete"`
	ContactDomain      string `xml:"DefaultContactDomain"`
	TargetVM           string `xml:"TargetVM"`
	HistoryLimit       int    `xml:"HistoryLimit"`
}

// NotifierConfig controls how analyst notifications are recorded
type NotifierConfig struct {
	LogSubmissions bool   `xml:"LogSubmissions"`
	OutboxPath     string `xml:"OutboxPath"`
	OutboxBuffer   int    `xml:"OutboxBuffer"`
}

// SessionsConfig contains session lifetime settings
type SessionsConfig struct {
	MaxSessions            int `xml:"MaxSessions"`
	SessionTimeoutMinutes  int `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int `xml:"CleanupIntervalMinutes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging"`
	WebSocketMaxMessageSize int    `xml:"WebSocketMaxMessageSizeKB"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "2G",
		},
		Simulator: SimulatorConfig{
			StepPercent:    queue.DefaultStep,
			IntervalMillis: int(queue.DefaultInterval / time.Millisecond),
		},
		Submission: SubmissionConfig{
			ClearQueueOnSubmit: false,
			RequireComplete:    false,
			ContactDomain:      "",
			TargetVM:           "",
			HistoryLimit:       submission.DefaultHistoryLimit,
		},
		Notifier: NotifierConfig{
			LogSubmissions: true,
			OutboxPath:     "./data/outbox/submissions.yaml",
			OutboxBuffer:   64,
		},
		Sessions: SessionsConfig{
			MaxSessions:            session.DefaultMaxSessions,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			EnableRequestLogging:    true,
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// A .env file next to the config feeds the environment overrides.
	// Variables already set in the process win.
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
	}

	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Upload Queue Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if level := os.Getenv("UPLOADQ_LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}

	if outbox := os.Getenv("UPLOADQ_OUTBOX"); outbox != "" {
		c.Notifier.OutboxPath = outbox
	}

	if v := os.Getenv("UPLOADQ_CLEAR_ON_SUBMIT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Submission.ClearQueueOnSubmit = b
		}
	}

	if v := os.Getenv("UPLOADQ_REQUIRE_COMPLETE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Submission.RequireComplete = b
		}
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if c.Notifier.OutboxPath != "" && !filepath.IsAbs(c.Notifier.OutboxPath) {
		c.Notifier.OutboxPath = filepath.Join(configDir, c.Notifier.OutboxPath)
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// QueueConfig returns the simulator settings for new queues
func (c *AppConfig) QueueConfig() queue.Config {
	return queue.Config{
		Step:     c.Simulator.StepPercent,
		Interval: time.Duration(c.Simulator.IntervalMillis) * time.Millisecond,
	}
}

// SubmissionOptions returns the submission gate policy
func (c *AppConfig) SubmissionOptions() submission.Options {
	return submission.Options{
		ClearOnSubmit:   c.Submission.ClearQueueOnSubmit,
		RequireComplete: c.Submission.RequireComplete,
		ContactDomain:   c.Submission.ContactDomain,
		TargetVM:        c.Submission.TargetVM,
		HistoryLimit:    c.Submission.HistoryLimit,
	}
}

// SessionConfig returns the session manager settings
func (c *AppConfig) SessionConfig() session.Config {
	return session.Config{
		Queue:       c.QueueConfig(),
		Submission:  c.SubmissionOptions(),
		MaxSessions: c.Sessions.MaxSessions,
	}
}

// SessionTimeout returns how long idle sessions are kept
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Sessions.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval returns how often idle sessions are swept
func (c *AppConfig) CleanupInterval() time.Duration {
	if c.Sessions.CleanupIntervalMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(c.Sessions.CleanupIntervalMinutes) * time.Minute
}
