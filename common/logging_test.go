package common

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputSplitterWriteLength(t *testing.T) {
	splitter := &OutputSplitter{}

	for _, msg := range []string{
		"",
		`level=info msg="event recorded"`,
		`level=error msg="insert failed"`,
		"line 1\nline 2\n",
	} {
		n, err := splitter.Write([]byte(msg))
		require.NoError(t, err)
		assert.Equal(t, len(msg), n)
	}
}

func TestLoggerUsesSplitter(t *testing.T) {
	require.NotNil(t, Logger)
	_, ok := Logger.Out.(*OutputSplitter)
	assert.True(t, ok)
}

func TestConfigureLogger(t *testing.T) {
	origLevel := Logger.GetLevel()
	origFormatter := Logger.Formatter
	t.Cleanup(func() {
		Logger.SetLevel(origLevel)
		Logger.SetFormatter(origFormatter)
	})

	t.Run("level and json format", func(t *testing.T) {
		ConfigureLogger("debug", "json")
		assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())
		_, ok := Logger.Formatter.(*logrus.JSONFormatter)
		assert.True(t, ok)
	})

	t.Run("unknown values fall back", func(t *testing.T) {
		ConfigureLogger("chatty", "yaml")
		assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
		_, ok := Logger.Formatter.(*logrus.TextFormatter)
		assert.True(t, ok)
	})
}
