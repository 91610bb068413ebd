package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/linesmerrill/alarm-trigger-api/logging"
)

// Config holds the project config values
type Config struct {
	URL          string `envconfig:"DB_URI"`
	DatabaseName string `envconfig:"DB_NAME"`
	BaseURL      string `envconfig:"BASE_URL"`
	Port         string `envconfig:"PORT"`
	Env          string `envconfig:"ENV"`

	// DBDriver selects the trigger store backend: "mongo" or "sqlite"
	DBDriver   string `envconfig:"DB_DRIVER" default:"mongo"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"./data/alarms.db"`

	ChannelTokenSecret string `envconfig:"CHANNEL_TOKEN_SECRET"`
	Timezone           string `envconfig:"TIMEZONE" default:"UTC"`

	// Location is resolved from Timezone
	Location *time.Location `ignored:"true"`

	Tunables
}

// Tunables are the typed knobs of the scheduler, the token issuer and the HTTP layer.
// Every value must be positive.
type Tunables struct {
	ChannelTokenTTL   time.Duration `envconfig:"CHANNEL_TOKEN_TTL" default:"5m"`
	ChannelTokenRate  float64       `envconfig:"CHANNEL_TOKEN_RATE" default:"1"` // tokens per second, per user
	ChannelTokenBurst int           `envconfig:"CHANNEL_TOKEN_BURST" default:"5"`

	ScanInterval    time.Duration `envconfig:"SCAN_INTERVAL" default:"30s"`
	ScanBatchSize   int           `envconfig:"SCAN_BATCH_SIZE" default:"500"`
	ScanConcurrency int           `envconfig:"SCAN_CONCURRENCY" default:"8"`

	DebounceQuiet  time.Duration `envconfig:"DEBOUNCE_QUIET" default:"300ms"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// Defaults used when the tunables cannot be loaded
const (
	DefaultChannelTokenTTL   = 5 * time.Minute
	DefaultChannelTokenRate  = 1.0
	DefaultChannelTokenBurst = 5
	DefaultScanInterval      = 30 * time.Second
	DefaultScanBatchSize     = 500
	DefaultScanConcurrency   = 8
	DefaultDebounceQuiet     = 300 * time.Millisecond
	DefaultRequestTimeout    = 30 * time.Second
)

// DefaultTunables returns the tunables New falls back to
func DefaultTunables() Tunables {
	return Tunables{
		ChannelTokenTTL:   DefaultChannelTokenTTL,
		ChannelTokenRate:  DefaultChannelTokenRate,
		ChannelTokenBurst: DefaultChannelTokenBurst,
		ScanInterval:      DefaultScanInterval,
		ScanBatchSize:     DefaultScanBatchSize,
		ScanConcurrency:   DefaultScanConcurrency,
		DebounceQuiet:     DefaultDebounceQuiet,
		RequestTimeout:    DefaultRequestTimeout,
	}
}

// Load reads environment variables into Config. On error the returned Config still
// carries every value read before the failing one.
func Load() (*Config, error) {
	var conf Config
	if err := envconfig.Process("", &conf); err != nil {
		return &conf, err
	}
	if err := conf.Tunables.validate(); err != nil {
		return &conf, err
	}
	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		return &conf, fmt.Errorf("invalid TIMEZONE %q: %w", conf.Timezone, err)
	}
	conf.Location = loc
	return &conf, nil
}

func (t Tunables) validate() error {
	switch {
	case t.ChannelTokenTTL <= 0:
		return fmt.Errorf("CHANNEL_TOKEN_TTL must be positive, got %s", t.ChannelTokenTTL)
	case t.ChannelTokenRate <= 0:
		return fmt.Errorf("CHANNEL_TOKEN_RATE must be positive, got %v", t.ChannelTokenRate)
	case t.ChannelTokenBurst <= 0:
		return fmt.Errorf("CHANNEL_TOKEN_BURST must be positive, got %d", t.ChannelTokenBurst)
	case t.ScanInterval <= 0:
		return fmt.Errorf("SCAN_INTERVAL must be positive, got %s", t.ScanInterval)
	case t.ScanBatchSize <= 0:
		return fmt.Errorf("SCAN_BATCH_SIZE must be positive, got %d", t.ScanBatchSize)
	case t.ScanConcurrency <= 0:
		return fmt.Errorf("SCAN_CONCURRENCY must be positive, got %d", t.ScanConcurrency)
	case t.DebounceQuiet <= 0:
		return fmt.Errorf("DEBOUNCE_QUIET must be positive, got %s", t.DebounceQuiet)
	case t.RequestTimeout <= 0:
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", t.RequestTimeout)
	}
	return nil
}

// New sets up all config related services. Invalid tunables fall back to
// DefaultTunables and an invalid TIMEZONE falls back to UTC.
func New() *Config {
	conf, err := Load()

	//setup zap logger and replace default logger
	logger, lerr := setLogger(conf.Env)
	if lerr != nil {
		logger = zap.NewExample()
	}
	_ = zap.ReplaceGlobals(logger)

	if err != nil {
		zap.S().Warnw("invalid configuration, falling back to defaults", "error", err)
	}
	// a tunable that failed to parse is left at zero
	if conf.Tunables.validate() != nil {
		conf.Tunables = DefaultTunables()
	}
	if conf.Location == nil {
		conf.Location = time.UTC
	}
	return conf
}

func setLogger(env string) (*zap.Logger, error) {
	return logging.New(env)
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().With("error", err).Error(message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"response": fmt.Sprintf("%s, %v", message, err),
	})
}
