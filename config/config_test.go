package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Felmond13/lstoredb/config"
)

func TestDefault_MatchesDesignDefaults(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, 16, cfg.BasePagesPerRange)
	require.Equal(t, 1024, cfg.MergeTrigger)
	require.Equal(t, 1024, cfg.BufferPoolCapacity)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, 10, cfg.VersionRingDepth)
	require.NoError(t, cfg.Validate())
}

func TestLoad_OverridesOnlySetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lstoredb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("merge_trigger: 50\n"), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 50, cfg.MergeTrigger)
	require.Equal(t, 16, cfg.BasePagesPerRange)
}

func TestValidate_RejectsNonsenseValues(t *testing.T) {
	cfg := config.Default()
	cfg.MergeTrigger = 0
	require.Error(t, cfg.Validate())
}
