package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig("/tmp/ingestord-test")
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		wantErr     bool
		errContains string
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:        "empty processing root",
			mutate:      func(c *Config) { c.ProcessingRoot = "" },
			wantErr:     true,
			errContains: "processing_root cannot be empty",
		},
		{
			name:        "relative processing root",
			mutate:      func(c *Config) { c.ProcessingRoot = "relative/path" },
			wantErr:     true,
			errContains: "absolute path",
		},
		{
			name:        "zero retain years",
			mutate:      func(c *Config) { c.RetainBackupYears = 0 },
			wantErr:     true,
			errContains: "retain_backup_years",
		},
		{
			name:        "zero worker pool",
			mutate:      func(c *Config) { c.WorkerPoolSize = 0 },
			wantErr:     true,
			errContains: "worker_pool_size",
		},
		{
			name:        "bad log level",
			mutate:      func(c *Config) { c.Log.Level = "verbose" },
			wantErr:     true,
			errContains: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_DeepCopy(t *testing.T) {
	cfg := validConfig()
	cp := cfg.DeepCopy()
	require.NotNil(t, cp)
	assert.Equal(t, cfg.ProcessingRoot, cp.ProcessingRoot)

	cp.ProcessingRoot = "/changed"
	assert.NotEqual(t, cfg.ProcessingRoot, cp.ProcessingRoot)
}

func TestManager_OnConfigChange(t *testing.T) {
	cfg := validConfig()
	mgr := NewManager(cfg, "/tmp/ingestord-test/config.yaml")

	var gotOld, gotNew *Config
	mgr.OnConfigChange(func(oldConfig, newConfig *Config) {
		gotOld = oldConfig
		gotNew = newConfig
	})

	updated := cfg.DeepCopy()
	updated.WorkerPoolSize = 10
	require.NoError(t, mgr.UpdateConfig(updated))

	require.NotNil(t, gotOld)
	require.NotNil(t, gotNew)
	assert.Equal(t, cfg.WorkerPoolSize, gotOld.WorkerPoolSize)
	assert.Equal(t, 10, gotNew.WorkerPoolSize)
	assert.Equal(t, 10, mgr.GetConfig().WorkerPoolSize)
}

func TestManager_ValidateConfigUpdate_RejectsPathChange(t *testing.T) {
	cfg := validConfig()
	mgr := NewManager(cfg, "/tmp/ingestord-test/config.yaml")

	updated := cfg.DeepCopy()
	updated.Database.Path = "/somewhere/else.db"

	err := mgr.ValidateConfigUpdate(updated)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "requires restart")
}
