package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, cleanup, err := New(Config{Development: true})
	require.NoError(t, err)
	defer cleanup()
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	logger.Info("development logger ready")
}

func TestNewProductionLoggerWithLevel(t *testing.T) {
	t.Parallel()

	logger, cleanup, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	defer cleanup()
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	_, _, err = New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestFileSinkWritesWholeLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "crawler.log")
	logger, cleanup, err := New(Config{Level: "info", File: path})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				logger.Info("page fetched", zap.Int("worker", i), zap.String("site", strings.Repeat("x", 200)))
			}
		}()
	}
	wg.Wait()
	cleanup()

	// #nosec G304 -- test reads from its own temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 200)
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "page fetched", entry["msg"])
		assert.Contains(t, entry, "ts")
	}
}
