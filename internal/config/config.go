package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "locsync.cfg.json"

// APIConfig holds REST location service settings
type APIConfig struct {
	ServerURL string
	Token     string
	Timeout   time.Duration
}

// PushConfig holds push channel settings
type PushConfig struct {
	Enabled bool
	URL     string
}

// TrackingConfig holds controller settings
type TrackingConfig struct {
	SubjectID          string
	SubjectType        string
	SessionID          string
	AccuracyThresholdM float64
	RejectOutOfOrder   bool
	GeocodeTimeout     time.Duration
	NearbyRadiusM      float64
	DeviceInfo         map[string]string
}

// GeolocationConfig selects and configures the position source
type GeolocationConfig struct {
	Source         string
	ReplayFile     string
	Interval       time.Duration
	StaticLat      float64
	StaticLng      float64
	StaticAccuracy float64
}

// GeocoderConfig holds reverse geocoding settings
type GeocoderConfig struct {
	Provider  string
	APIKey    string
	Language  string
	Cache     string
	RedisAddr string
	CacheTTL  time.Duration
	CacheSize int
}

// PostgresConfig holds connection settings for the postgres journal
type PostgresConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// InfluxConfig holds settings for the influx journal
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// StorageConfig holds fix journal settings
type StorageConfig struct {
	Type          string
	SQLitePath    string
	FlushInterval time.Duration
	Postgres      PostgresConfig
	Influx        InfluxConfig
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// GraylogConfig holds GELF log shipping settings
type GraylogConfig struct {
	Enabled bool
	Address string
}

// ServerConfig holds the local UI API settings
type ServerConfig struct {
	Enabled bool
	Addr    string
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Environment
// variables prefixed with LOCSYNC_ override file values.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix("LOCSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logFormat", "text")
	viper.SetDefault("logsDir", "./locsynclogs")

	viper.SetDefault("api.serverUrl", "http://localhost:5000/api")
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.timeout", "10s")

	viper.SetDefault("push.enabled", true)
	viper.SetDefault("push.url", "ws://localhost:5000/ws")

	viper.SetDefault("tracking.subjectId", "")
	viper.SetDefault("tracking.subjectType", "Student")
	viper.SetDefault("tracking.sessionId", "")
	viper.SetDefault("tracking.accuracyThreshold", 1000.0)
	viper.SetDefault("tracking.rejectOutOfOrder", true)
	viper.SetDefault("tracking.geocodeTimeout", "3s")
	viper.SetDefault("tracking.nearbyRadius", 5000.0)
	viper.SetDefault("tracking.deviceInfo", map[string]string{})

	viper.SetDefault("geolocation.source", "static")
	viper.SetDefault("geolocation.replayFile", "")
	viper.SetDefault("geolocation.interval", "5s")
	viper.SetDefault("geolocation.staticLat", 0.0)
	viper.SetDefault("geolocation.staticLng", 0.0)
	viper.SetDefault("geolocation.staticAccuracy", 25.0)

	viper.SetDefault("geocoder.provider", "none")
	viper.SetDefault("geocoder.apiKey", "")
	viper.SetDefault("geocoder.language", "en")
	viper.SetDefault("geocoder.cache", "memory")
	viper.SetDefault("geocoder.redisAddr", "localhost:6379")
	viper.SetDefault("geocoder.cacheTtl", "24h")
	viper.SetDefault("geocoder.cacheSize", 4096)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.sqlite.path", "")
	viper.SetDefault("storage.flushInterval", "2s")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "locsync")
	viper.SetDefault("storage.influx.url", "http://localhost:8086")
	viper.SetDefault("storage.influx.token", "")
	viper.SetDefault("storage.influx.org", "locsync")
	viper.SetDefault("storage.influx.bucket", "location_fixes")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "locsync")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("server.enabled", true)
	viper.SetDefault("server.addr", "127.0.0.1:8787")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetAPIConfig returns the REST client configuration.
func GetAPIConfig() APIConfig {
	return APIConfig{
		ServerURL: viper.GetString("api.serverUrl"),
		Token:     viper.GetString("api.token"),
		Timeout:   viper.GetDuration("api.timeout"),
	}
}

// GetPushConfig returns the push channel configuration.
func GetPushConfig() PushConfig {
	return PushConfig{
		Enabled: viper.GetBool("push.enabled"),
		URL:     viper.GetString("push.url"),
	}
}

// GetTrackingConfig returns the controller configuration.
func GetTrackingConfig() TrackingConfig {
	return TrackingConfig{
		SubjectID:          viper.GetString("tracking.subjectId"),
		SubjectType:        viper.GetString("tracking.subjectType"),
		SessionID:          viper.GetString("tracking.sessionId"),
		AccuracyThresholdM: viper.GetFloat64("tracking.accuracyThreshold"),
		RejectOutOfOrder:   viper.GetBool("tracking.rejectOutOfOrder"),
		GeocodeTimeout:     viper.GetDuration("tracking.geocodeTimeout"),
		NearbyRadiusM:      viper.GetFloat64("tracking.nearbyRadius"),
		DeviceInfo:         viper.GetStringMapString("tracking.deviceInfo"),
	}
}

// GetGeolocationConfig returns the position source configuration.
func GetGeolocationConfig() GeolocationConfig {
	return GeolocationConfig{
		Source:         viper.GetString("geolocation.source"),
		ReplayFile:     viper.GetString("geolocation.replayFile"),
		Interval:       viper.GetDuration("geolocation.interval"),
		StaticLat:      viper.GetFloat64("geolocation.staticLat"),
		StaticLng:      viper.GetFloat64("geolocation.staticLng"),
		StaticAccuracy: viper.GetFloat64("geolocation.staticAccuracy"),
	}
}

// GetGeocoderConfig returns the reverse geocoder configuration.
func GetGeocoderConfig() GeocoderConfig {
	return GeocoderConfig{
		Provider:  viper.GetString("geocoder.provider"),
		APIKey:    viper.GetString("geocoder.apiKey"),
		Language:  viper.GetString("geocoder.language"),
		Cache:     viper.GetString("geocoder.cache"),
		RedisAddr: viper.GetString("geocoder.redisAddr"),
		CacheTTL:  viper.GetDuration("geocoder.cacheTtl"),
		CacheSize: viper.GetInt("geocoder.cacheSize"),
	}
}

// GetStorageConfig returns the fix journal configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type:          viper.GetString("storage.type"),
		SQLitePath:    viper.GetString("storage.sqlite.path"),
		FlushInterval: viper.GetDuration("storage.flushInterval"),
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
		},
		Influx: InfluxConfig{
			URL:    viper.GetString("storage.influx.url"),
			Token:  viper.GetString("storage.influx.token"),
			Org:    viper.GetString("storage.influx.org"),
			Bucket: viper.GetString("storage.influx.bucket"),
		},
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetGraylogConfig returns the GELF shipping configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetServerConfig returns the local UI API configuration.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Enabled: viper.GetBool("server.enabled"),
		Addr:    viper.GetString("server.addr"),
	}
}
