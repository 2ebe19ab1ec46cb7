package storyloom

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/storyloom-ai/storyloom/story"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	require.True(t, config.AutoReject())
	require.Equal(t, 1, config.MediaRetryMax)
	require.Equal(t, 3*24*time.Hour, config.ReviewDeadline)
	require.Equal(t, 0.4, config.Thresholds.FearByAge[story.Ages6to8])
	require.Equal(t, 0.6, config.Thresholds.ViolenceHardByAge[story.Ages6to8])
}

func TestValidateFillsDefaults(t *testing.T) {
	config := &Config{}
	require.NoError(t, config.Validate())
	require.Equal(t, 8, config.WorkerPoolSize)
	require.Equal(t, time.Hour, config.StatusTTL)
	require.NotNil(t, config.AutoRejectOnHardFail)
}

func TestValidateRejectsBadValues(t *testing.T) {
	config := DefaultConfig()
	config.MediaRetryMax = -1
	require.Error(t, config.Validate())

	config = DefaultConfig()
	config.WorkerPoolSize = -2
	require.Error(t, config.Validate())
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
auto_reject_on_hard_fail: false
media_retry_max: 2
review_deadline: 24h
worker_pool_size: 4
`), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.False(t, config.AutoReject())
	require.Equal(t, 2, config.MediaRetryMax)
	require.Equal(t, 24*time.Hour, config.ReviewDeadline)
	require.Equal(t, 4, config.WorkerPoolSize)
	// Unspecified sections get defaults.
	require.Equal(t, 0.3, config.Thresholds.FearByAge[story.Ages3to5])
}
