package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultMaxZipSizeBytes is used when the MAX_ZIP_SIZE setting row is
// absent, unparsable, or non-positive. MAX_ZIP_SIZE is denominated in
// megabytes; the default is fixed at 1 MB.
const DefaultMaxZipSizeBytes = int64(1) << 20

// Config represents the complete engine configuration.
type Config struct {
	ProcessingRoot   string         `yaml:"processing_root" mapstructure:"processing_root" json:"processing_root"`
	UploadToDatalake bool           `yaml:"upload_to_datalake" mapstructure:"upload_to_datalake" json:"upload_to_datalake"`
	RetainBackupYears int           `yaml:"retain_backup_years" mapstructure:"retain_backup_years" json:"retain_backup_years"`
	RetainLogMonths  int            `yaml:"retain_log_months" mapstructure:"retain_log_months" json:"retain_log_months"`
	IngestCron       string         `yaml:"ingest_cron" mapstructure:"ingest_cron" json:"ingest_cron"`
	HousekeepingCron string         `yaml:"housekeeping_cron" mapstructure:"housekeeping_cron" json:"housekeeping_cron"`
	WorkerPoolSize   int            `yaml:"worker_pool_size" mapstructure:"worker_pool_size" json:"worker_pool_size"`
	Database         DatabaseConfig `yaml:"database" mapstructure:"database" json:"database"`
	Log              LogConfig      `yaml:"log" mapstructure:"log" json:"log,omitempty"`
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path" json:"path"`
}

// LogConfig represents logging configuration with rotation support.
type LogConfig struct {
	File       string `yaml:"file" mapstructure:"file" json:"file,omitempty"`
	Level      string `yaml:"level" mapstructure:"level" json:"level,omitempty"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size" json:"max_size,omitempty"`
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age" json:"max_age,omitempty"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups" json:"max_backups,omitempty"`
	Compress   bool   `yaml:"compress" mapstructure:"compress" json:"compress,omitempty"`
}

// DeepCopy returns a deep copy of the configuration using the copier library.
func (c *Config) DeepCopy() *Config {
	if c == nil {
		return nil
	}

	copyCfg := &Config{}
	if err := copier.CopyWithOption(copyCfg, c, copier.Option{DeepCopy: true}); err != nil {
		shallowCopy := *c
		return &shallowCopy
	}

	return copyCfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ProcessingRoot == "" {
		return fmt.Errorf("processing_root cannot be empty")
	}
	if !filepath.IsAbs(c.ProcessingRoot) {
		return fmt.Errorf("processing_root must be an absolute path")
	}

	if c.RetainBackupYears <= 0 {
		return fmt.Errorf("retain_backup_years must be greater than 0")
	}
	if c.RetainLogMonths <= 0 {
		return fmt.Errorf("retain_log_months must be greater than 0")
	}

	if c.IngestCron == "" {
		return fmt.Errorf("ingest_cron cannot be empty")
	}
	if c.HousekeepingCron == "" {
		return fmt.Errorf("housekeeping_cron cannot be empty")
	}

	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker_pool_size must be greater than 0")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.Log.Level != "" {
		validLevels := []string{"debug", "info", "warn", "error"}
		isValid := false
		for _, level := range validLevels {
			if c.Log.Level == level {
				isValid = true
				break
			}
		}
		if !isValid {
			return fmt.Errorf("log.level must be one of: debug, info, warn, error")
		}
	}

	if c.Log.MaxSize < 0 {
		return fmt.Errorf("log.max_size must be non-negative")
	}
	if c.Log.MaxAge < 0 {
		return fmt.Errorf("log.max_age must be non-negative")
	}
	if c.Log.MaxBackups < 0 {
		return fmt.Errorf("log.max_backups must be non-negative")
	}

	return nil
}

// ChangeCallback represents a function called when configuration changes.
type ChangeCallback func(oldConfig, newConfig *Config)

// ConfigGetter represents a function that returns the current configuration.
type ConfigGetter func() *Config

// Manager manages configuration state and reload.
type Manager struct {
	current    *Config
	configFile string
	mutex      sync.RWMutex
	callbacks  []ChangeCallback
}

// NewManager creates a new configuration manager.
func NewManager(config *Config, configFile string) *Manager {
	return &Manager{
		current:    config,
		configFile: configFile,
	}
}

// GetConfig returns the current configuration (thread-safe).
func (m *Manager) GetConfig() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}

// GetConfigGetter returns a function that provides the current configuration.
func (m *Manager) GetConfigGetter() ConfigGetter {
	return m.GetConfig
}

// UpdateConfig updates the current configuration (thread-safe) and notifies callbacks.
func (m *Manager) UpdateConfig(config *Config) error {
	m.mutex.Lock()
	var oldConfig *Config
	if m.current != nil {
		oldConfig = m.current.DeepCopy()
	}
	m.current = config
	callbacks := make([]ChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mutex.Unlock()

	for _, callback := range callbacks {
		callback(oldConfig, config)
	}
	return nil
}

// OnConfigChange registers a callback to be called when configuration changes.
func (m *Manager) OnConfigChange(callback ChangeCallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ValidateConfigUpdate validates configuration updates with additional restrictions:
// the database path and processing root require a restart to change safely.
func (m *Manager) ValidateConfigUpdate(newConfig *Config) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	m.mutex.RLock()
	currentConfig := m.current
	m.mutex.RUnlock()

	if currentConfig != nil {
		if newConfig.Database.Path != currentConfig.Database.Path {
			return fmt.Errorf("database path cannot be changed via reload - requires restart")
		}
		if newConfig.ProcessingRoot != currentConfig.ProcessingRoot {
			return fmt.Errorf("processing_root cannot be changed via reload - requires restart")
		}
	}

	return nil
}

// ReloadConfig reloads configuration from file.
func (m *Manager) ReloadConfig() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	viper.SetConfigFile(m.configFile)

	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", m.configFile, err)
	}

	config := DefaultConfig()
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	m.current = config
	return nil
}

// SaveConfig saves the current configuration to file.
func (m *Manager) SaveConfig() error {
	m.mutex.RLock()
	config := m.current
	m.mutex.RUnlock()

	if config == nil {
		return fmt.Errorf("no configuration to save")
	}

	return SaveToFile(config, m.configFile)
}

// DefaultConfig returns a config with default values. If configDir is
// provided, it is used for the database and log file paths.
func DefaultConfig(configDir ...string) *Config {
	var dbPath, logPath, processingRoot string

	if len(configDir) > 0 && configDir[0] != "" {
		dbPath = filepath.Join(configDir[0], "ingestord.db")
		logPath = filepath.Join(configDir[0], "ingestord.log")
		processingRoot = filepath.Join(configDir[0], "processing")
	} else {
		dbPath = "./ingestord.db"
		logPath = "./ingestord.log"
		processingRoot = "./processing"
	}

	return &Config{
		ProcessingRoot:    processingRoot,
		UploadToDatalake:  false,
		RetainBackupYears: 2,
		RetainLogMonths:   6,
		IngestCron:        "0 * * * * *", // every minute, on the zero second
		HousekeepingCron:  "0 0 0 * * *", // daily at 00:00:00
		WorkerPoolSize:    50,
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Log: LogConfig{
			File:       logPath,
			Level:      "info",
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 10,
			Compress:   true,
		},
	}
}

// SaveToFile saves a configuration to a YAML file.
func SaveToFile(config *Config, filename string) error {
	if filename == "" {
		return fmt.Errorf("no config file path provided")
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadConfig loads configuration from file and merges with defaults, creating
// a default config file on first run.
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	var targetConfigFile string
	if configFile != "" {
		viper.SetConfigFile(configFile)
		targetConfigFile = configFile
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		targetConfigFile = "config.yaml"
	}

	if err := viper.ReadInConfig(); err != nil {
		if os.IsNotExist(err) || strings.Contains(err.Error(), "no such file") {
			configDir := filepath.Dir(targetConfigFile)
			configForSave := DefaultConfig(configDir)
			if err := SaveToFile(configForSave, targetConfigFile); err != nil {
				return nil, fmt.Errorf("failed to create default config file %s: %w", targetConfigFile, err)
			}

			fmt.Printf("Created default configuration file: %s\n", targetConfigFile)
			fmt.Printf("Please review and modify the configuration as needed.\n")

			viper.SetConfigFile(targetConfigFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading newly created config file %s: %w", targetConfigFile, err)
			}
		} else {
			if configFile != "" {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if configFile != "" && !viper.IsSet("log.file") {
		configDir := filepath.Dir(configFile)
		config.Log.File = filepath.Join(configDir, "ingestord.log")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// GetConfigFilePath returns the configuration file path used by viper.
func GetConfigFilePath() string {
	return viper.ConfigFileUsed()
}
