package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		config, err := LoadConfig(WithDefaults())
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:8080", config.BindAddress)
		assert.Equal(t, "/dev/ttyUSB0", config.SerialPort)
		assert.Equal(t, 115200, config.BaudRate)
		assert.Equal(t, "info", config.LogLevel)
		assert.Equal(t, "data/modem.db", config.DatabasePath)
		assert.Zero(t, config.GPSInterval)
	})

	t.Run("File overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gateway.yaml")
		require.NoError(t, os.WriteFile(path, []byte(
			"serial_port: /dev/ttyS1\napn: internet\ngps_interval: 10s\ntrace: true\n"), 0o600))

		config, err := LoadConfig(WithDefaults(), WithFile(path))
		require.NoError(t, err)
		assert.Equal(t, "/dev/ttyS1", config.SerialPort)
		assert.Equal(t, "internet", config.APN)
		assert.Equal(t, 10*time.Second, config.GPSInterval)
		assert.True(t, config.Trace)
		assert.Equal(t, 115200, config.BaudRate)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadConfig(WithFile(filepath.Join(t.TempDir(), "missing.yaml")))
		assert.ErrorContains(t, err, "read config file")
	})

	t.Run("Malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gateway.yaml")
		require.NoError(t, os.WriteFile(path, []byte("baud_rate: [fast\n"), 0o600))

		_, err := LoadConfig(WithFile(path))
		assert.ErrorContains(t, err, "parse config file")
	})

	t.Run("Env overrides file", func(t *testing.T) {
		t.Setenv("SERIAL_PORT", "/dev/ttyACM0")
		t.Setenv("BAUD_RATE", "9600")
		t.Setenv("GPS_INTERVAL", "1m")
		t.Setenv("TRACE", "not-a-bool")

		config, err := LoadConfig(WithDefaults(), WithEnv())
		require.NoError(t, err)
		assert.Equal(t, "/dev/ttyACM0", config.SerialPort)
		assert.Equal(t, 9600, config.BaudRate)
		assert.Equal(t, time.Minute, config.GPSInterval)
		assert.False(t, config.Trace)
	})

	t.Run("Flags override env", func(t *testing.T) {
		t.Setenv("SERIAL_PORT", "/dev/ttyACM0")

		opts, err := ParseOptions([]string{"--serial-port", "/dev/ttyUSB3", "--apn=web", "--gps-interval", "2s", "--trace"})
		require.NoError(t, err)

		config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(opts))
		require.NoError(t, err)
		assert.Equal(t, "/dev/ttyUSB3", config.SerialPort)
		assert.Equal(t, "web", config.APN)
		assert.Equal(t, 2*time.Second, config.GPSInterval)
		assert.True(t, config.Trace)
		assert.Equal(t, "0.0.0.0:8080", config.BindAddress)
	})
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions([]string{"-c", "gateway.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "gateway.yaml", opts.ConfigFile)

	_, err = ParseOptions([]string{"--help"})
	assert.True(t, isHelp(err))

	_, err = ParseOptions([]string{"--no-such-flag"})
	assert.Error(t, err)
	assert.False(t, isHelp(err))
}

func TestLogLevel(t *testing.T) {
	for level, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	} {
		assert.Equal(t, want, logLevel(level), level)
	}
}
