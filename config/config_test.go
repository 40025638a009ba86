package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "missing http addr",
			mutate: func(c *Config) { c.HTTP.Addr = "" },
		},
		{
			name:   "quiet hours start out of range",
			mutate: func(c *Config) { c.Policy.QuietHours.StartHour = 24 },
		},
		{
			name:   "quiet hours enabled without timezone",
			mutate: func(c *Config) { c.Policy.QuietHours.Enabled = true; c.Policy.QuietHours.Timezone = "" },
		},
		{
			name:   "zero wip cap",
			mutate: func(c *Config) { c.Policy.DefaultWIPCap = 0 },
		},
		{
			name:   "webhook multiplier below one",
			mutate: func(c *Config) { c.Webhooks.Multiplier = 0.5 },
		},
		{
			name:   "zero webhook attempts",
			mutate: func(c *Config) { c.Webhooks.MaxAttempts = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMergeOverridesNonZero(t *testing.T) {
	base := DefaultConfig()
	other := &Config{
		Home: "/data/steward",
		NATS: NATSConfig{URL: "nats://remote:4222"},
		HTTP: HTTPConfig{Addr: ":9000"},
		Webhooks: WebhookConfig{
			MaxAttempts: 10,
		},
		Routing: RoutingConfig{
			Protected:       []string{"auth/**"},
			DefaultReviewer: "principal",
		},
	}

	base.Merge(other)

	assert.Equal(t, "/data/steward", base.Home)
	assert.Equal(t, "nats://remote:4222", base.NATS.URL)
	assert.Equal(t, ":9000", base.HTTP.Addr)
	assert.Equal(t, 10, base.Webhooks.MaxAttempts)
	assert.Equal(t, []string{"auth/**"}, base.Routing.Protected)
	assert.Equal(t, "principal", base.Routing.DefaultReviewer)
	// Untouched fields keep their defaults.
	assert.Equal(t, 5*time.Minute, base.Webhooks.MaxBackoff)
	assert.Equal(t, 2, base.Policy.DefaultWIPCap)
}

func TestWIPCapPerAgent(t *testing.T) {
	p := DefaultPolicy()
	p.DefaultWIPCap = 2
	p.WIPCaps = map[string]int{"worker-a": 5}

	assert.Equal(t, 5, p.WIPCap("worker-a"))
	assert.Equal(t, 2, p.WIPCap("worker-b"))
}

func TestLoadFromFileMissingReadsAsNotExist(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "wrapped read error should still read as not-exist")
}
