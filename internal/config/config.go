// Package config defines the configuration for the qpfwatch alert job.
// Configuration is loaded once when the process starts and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Every default reproduces the behaviour of the original single-location job
// (Fairfax, VA at a 0.30" threshold), so an empty environment is a valid one.
package config

import (
	"time"

	"qpfwatch/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`

	Location LocationConfig
	Alert    AlertConfig
	Upstream UpstreamConfig
	Layers   LayerConfig
	Sampler  SamplerConfig
	Feed     FeedConfig
	Mirror   MirrorConfig
	State    StateConfig
	Metrics  MetricsConfig
	AWS      AWSConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// LocationConfig is the single point being watched.
type LocationConfig struct {
	Name      string  `envconfig:"LOCATION_NAME" default:"Fairfax" validate:"required"`
	Latitude  float64 `envconfig:"LATITUDE" default:"38.8460" validate:"gte=-90,lte=90"`
	Longitude float64 `envconfig:"LONGITUDE" default:"-77.3060" validate:"gte=-180,lte=180"`
}

// AlertConfig holds the alert thresholds in inches.
type AlertConfig struct {
	ThresholdIn float64 `envconfig:"THRESHOLD_IN" default:"0.30" validate:"gt=0"`
	// ClearThresholdIn is the total the forecast must fall below before an
	// active alert re-arms. Zero means "same as ThresholdIn".
	ClearThresholdIn float64 `envconfig:"CLEAR_THRESHOLD_IN" default:"0" validate:"gte=0"`
}

// EffectiveClearThreshold returns the re-arm level actually applied.
func (a AlertConfig) EffectiveClearThreshold() float64 {
	if a.ClearThresholdIn <= 0 {
		return a.ThresholdIn
	}
	return a.ClearThresholdIn
}

// UpstreamConfig controls how the MapServer is called.
type UpstreamConfig struct {
	ServiceURL     string        `envconfig:"SERVICE_URL" default:"https://mapservices.weather.noaa.gov/vector/rest/services/precip/wpc_qpf/MapServer" validate:"required,url"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s" validate:"gt=0"`
	MaxRetries     int           `envconfig:"UPSTREAM_MAX_RETRIES" default:"0" validate:"gte=0,lte=5"`
	UserAgent      string        `envconfig:"USER_AGENT" default:"qpfwatch/1.0"`
	// RawArchiveDir enables zstd archiving of every upstream payload when set.
	RawArchiveDir string `envconfig:"RAW_ARCHIVE_DIR"`
}

// LayerConfig names the catalog layers to resolve. IDs are looked up by name
// on every run.
type LayerConfig struct {
	Day12Name     string `envconfig:"LAYER_DAY12_NAME" default:"QPF 48 Hour Day 1-2" validate:"required"`
	Day45Name     string `envconfig:"LAYER_DAY45_NAME" default:"QPF 48 Hour Day 4-5" validate:"required"`
	Day67Name     string `envconfig:"LAYER_DAY67_NAME" default:"QPF 48 Hour Day 6-7" validate:"required"`
	SixHourParent string `envconfig:"LAYER_6H_PARENT_NAME" default:"QPF_6_Hour_Intervals" validate:"required"`
	WindowSamples int    `envconfig:"WINDOW_SAMPLES" default:"8" validate:"min=1"`
}

// SamplerConfig controls how a query result is turned into inches.
type SamplerConfig struct {
	Field             string `envconfig:"QPF_FIELD" default:"qpf" validate:"required"`
	AttributeFallback bool   `envconfig:"QPF_ATTRIBUTE_FALLBACK" default:"true"`
}

// FeedConfig describes the RSS document.
type FeedConfig struct {
	File              string `envconfig:"FEED_FILE" default:"feed.xml" validate:"required"`
	Title             string `envconfig:"FEED_TITLE"`
	Link              string `envconfig:"FEED_LINK" default:"https://www.wpc.ncep.noaa.gov/qpf/day1-2.shtml" validate:"required,url"`
	ItemLink          string `envconfig:"ITEM_LINK" default:"https://www.wpc.ncep.noaa.gov/qpf/day1-2.shtml" validate:"required,url"`
	GUIDPrefix        string `envconfig:"GUID_PREFIX" default:"fairfax-wpc" validate:"required"`
	MaxItems          int    `envconfig:"MAX_ITEMS" default:"25" validate:"min=1"`
	SourceAttribution string `envconfig:"SOURCE_ATTRIBUTION" default:"WPC QPF (NOAA/NWS)."`
}

// MirrorConfig configures optional copies of the feed. An empty bucket or
// address disables the mirror.
type MirrorConfig struct {
	S3Bucket    string       `envconfig:"FEED_S3_BUCKET"`
	S3Key       string       `envconfig:"FEED_S3_KEY" default:"feed.xml"`
	FTPAddr     string       `envconfig:"FEED_FTP_ADDR" validate:"omitempty,hostname_port"`
	FTPUser     string       `envconfig:"FEED_FTP_USER"`
	FTPPassword SecretString `envconfig:"FEED_FTP_PASSWORD"`
	FTPPath     string       `envconfig:"FEED_FTP_PATH" default:"feed.xml"`
}

// StateConfig selects where RunState is persisted.
type StateConfig struct {
	Backend     string       `envconfig:"STATE_BACKEND" default:"file" validate:"oneof=file sqlite postgres"`
	ItemsFile   string       `envconfig:"ITEMS_FILE" default:"items.json"`
	StateFile   string       `envconfig:"STATE_FILE" default:"state.json"`
	SQLitePath  string       `envconfig:"SQLITE_PATH" default:"qpfwatch.db"`
	DatabaseURL SecretString `envconfig:"DATABASE_URL" validate:"required_if=Backend postgres"`
	Key         string       `envconfig:"STATE_KEY" default:"default" validate:"required"`
}

// MetricsConfig selects the telemetry backend.
type MetricsConfig struct {
	Backend      string `envconfig:"METRICS_BACKEND" default:"none" validate:"oneof=none cloudwatch prometheus"`
	Namespace    string `envconfig:"METRIC_NAMESPACE" default:"QPFWatch"`
	PromTextfile string `envconfig:"PROM_TEXTFILE" default:"qpfwatch.prom"`
}

// AWSConfig holds regional configuration shared by the SSM, S3 and
// CloudWatch clients.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
