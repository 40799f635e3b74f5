// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "applyloop", cfg.Logger.ServiceName)
	assert.Equal(t, 5, cfg.Loop.MaxBatchSize)
	assert.Equal(t, 3, cfg.Loop.StallThreshold)
	assert.Equal(t, 6, cfg.Loop.GiveUpThreshold)
	assert.Equal(t, 2*time.Second, cfg.Engine.MinRequestDelay)
	assert.True(t, cfg.Browser.Headless)
	assert.Contains(t, cfg.Loop.ConfirmationPhrases, "application submitted")

	// The default config must validate against its own rules.
	assert.NoError(t, cfg.Validate())
}

func TestNewConfigFromViper_Overrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("loop.stall_threshold", 5)
	v.Set("loop.give_up_threshold", 9)
	v.Set("engine.concurrency", 4)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Loop.StallThreshold)
	assert.Equal(t, 9, cfg.Loop.GiveUpThreshold)
	assert.Equal(t, 4, cfg.Engine.Concurrency)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Loop.MaxBatchSize = 0 },
			wantErr: "max_batch_size",
		},
		{
			name:    "give up below stall threshold",
			mutate:  func(c *Config) { c.Loop.GiveUpThreshold = c.Loop.StallThreshold - 1 },
			wantErr: "give_up_threshold",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Engine.Concurrency = 0 },
			wantErr: "concurrency",
		},
		{
			name:    "unknown fast model",
			mutate:  func(c *Config) { c.LLM.FastModel = "missing" },
			wantErr: "fast_model",
		},
		{
			name: "unknown powerful model with fallback enabled",
			mutate: func(c *Config) {
				c.LLM.AllowCloudFallback = true
				c.LLM.PowerfulModel = "missing"
			},
			wantErr: "powerful_model",
		},
		{
			name: "powerful model not needed when fallback disabled",
			mutate: func(c *Config) {
				c.LLM.AllowCloudFallback = false
				c.LLM.PowerfulModel = "missing"
			},
			wantErr: "",
		},
		{
			name:    "missing profile path",
			mutate:  func(c *Config) { c.Profile.Path = "" },
			wantErr: "profile.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
