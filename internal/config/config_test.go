package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644)
	require.NoError(t, err)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{}`)
	require.NoError(t, Load(dir))

	assert.Equal(t, "info", GetString("logLevel"))

	api := GetAPIConfig()
	assert.Equal(t, "http://localhost:5000/api", api.ServerURL)
	assert.Equal(t, 10*time.Second, api.Timeout)

	tr := GetTrackingConfig()
	assert.Equal(t, "Student", tr.SubjectType)
	assert.Equal(t, 1000.0, tr.AccuracyThresholdM)
	assert.True(t, tr.RejectOutOfOrder)
	assert.Equal(t, 3*time.Second, tr.GeocodeTimeout)
	assert.Equal(t, 5000.0, tr.NearbyRadiusM)

	push := GetPushConfig()
	assert.True(t, push.Enabled)
	assert.Equal(t, "ws://localhost:5000/ws", push.URL)

	storage := GetStorageConfig()
	assert.Equal(t, "memory", storage.Type)
	assert.Equal(t, 2*time.Second, storage.FlushInterval)
	assert.Equal(t, "5432", storage.Postgres.Port)
	assert.Equal(t, "location_fixes", storage.Influx.Bucket)

	geocoder := GetGeocoderConfig()
	assert.Equal(t, "none", geocoder.Provider)
	assert.Equal(t, 24*time.Hour, geocoder.CacheTTL)
	assert.Equal(t, 4096, geocoder.CacheSize)

	assert.False(t, GetOTelConfig().Enabled)
	assert.False(t, GetGraylogConfig().Enabled)
	assert.Equal(t, "127.0.0.1:8787", GetServerConfig().Addr)
}

func TestLoad_Overrides(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"api": {"serverUrl": "https://campus.example.org/api/", "token": "abc", "timeout": "2s"},
		"push": {"enabled": false, "url": "wss://campus.example.org/ws"},
		"tracking": {
			"subjectId": "stu-42",
			"sessionId": "sess-1",
			"accuracyThreshold": 250,
			"rejectOutOfOrder": false,
			"geocodeTimeout": "500ms",
			"deviceInfo": {"platform": "linux"}
		},
		"geolocation": {"source": "replay", "replayFile": "/tmp/fixes.json", "interval": "1s"},
		"storage": {"type": "sqlite", "sqlite": {"path": "/tmp/fixes.db"}, "flushInterval": "100ms"},
		"otel": {"enabled": true, "serviceName": "campus", "batchTimeout": "1s", "endpoint": "otel:4318"},
		"graylog": {"enabled": true, "address": "graylog:12201"}
	}`)
	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", GetString("logLevel"))

	api := GetAPIConfig()
	assert.Equal(t, "https://campus.example.org/api/", api.ServerURL)
	assert.Equal(t, "abc", api.Token)
	assert.Equal(t, 2*time.Second, api.Timeout)

	push := GetPushConfig()
	assert.False(t, push.Enabled)
	assert.Equal(t, "wss://campus.example.org/ws", push.URL)

	tr := GetTrackingConfig()
	assert.Equal(t, "stu-42", tr.SubjectID)
	assert.Equal(t, "sess-1", tr.SessionID)
	assert.Equal(t, 250.0, tr.AccuracyThresholdM)
	assert.False(t, tr.RejectOutOfOrder)
	assert.Equal(t, 500*time.Millisecond, tr.GeocodeTimeout)
	assert.Equal(t, map[string]string{"platform": "linux"}, tr.DeviceInfo)

	geo := GetGeolocationConfig()
	assert.Equal(t, "replay", geo.Source)
	assert.Equal(t, "/tmp/fixes.json", geo.ReplayFile)
	assert.Equal(t, time.Second, geo.Interval)

	storage := GetStorageConfig()
	assert.Equal(t, "sqlite", storage.Type)
	assert.Equal(t, "/tmp/fixes.db", storage.SQLitePath)
	assert.Equal(t, 100*time.Millisecond, storage.FlushInterval)

	otel := GetOTelConfig()
	assert.True(t, otel.Enabled)
	assert.Equal(t, "campus", otel.ServiceName)
	assert.Equal(t, time.Second, otel.BatchTimeout)
	assert.Equal(t, "otel:4318", otel.Endpoint)

	graylog := GetGraylogConfig()
	assert.True(t, graylog.Enabled)
	assert.Equal(t, "graylog:12201", graylog.Address)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("LOCSYNC_API_TOKEN", "from-env")

	dir := writeConfig(t, `{"api": {"token": "from-file"}}`)
	require.NoError(t, Load(dir))

	assert.Equal(t, "from-env", GetAPIConfig().Token)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}
