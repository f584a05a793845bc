package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelAndFormat(t *testing.T) {
	l := New(Config{Level: "DEBUG", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, l.Logrus().GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Logrus().Formatter)

	l = New(Config{Level: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, l.Logrus().GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, l.Logrus().Formatter)
	assert.NoError(t, l.Close())
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrow.log")
	l := New(Config{Level: "info", Format: "json", Output: path, MaxSize: 1})

	l.WithComponent("engine").WithField("agreement", 7).Info("agreement published")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"engine"`)
	assert.Contains(t, string(data), `"msg":"agreement published"`)
}
