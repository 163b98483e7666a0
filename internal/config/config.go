// Package config loads service settings from defaults, an optional YAML
// file, a .env file and SKEIN_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/FranksOps/skein/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SKEIN_SERVER_ADDR.
const EnvPrefix = "SKEIN"

type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Log     logging.Config `mapstructure:"log"`
	Storage StorageConfig  `mapstructure:"storage"`
	Fetch   FetchConfig    `mapstructure:"fetch"`
	Worker  WorkerConfig   `mapstructure:"worker"`
	Search  SearchConfig   `mapstructure:"search"`
	Request RequestConfig  `mapstructure:"request"`
	// DrainGrace bounds how long open responses may keep collecting results
	// once shutdown starts.
	DrainGrace time.Duration `mapstructure:"drain_grace"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig moves /metrics to its own listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
}

type FetchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	Fingerprint    string        `mapstructure:"fingerprint"`
	ProxiesFile    string        `mapstructure:"proxies_file"`
	ProxyStrikes   int           `mapstructure:"proxy_strikes"`
	ProxyCooldown  time.Duration `mapstructure:"proxy_cooldown"`
	UserAgentsFile string        `mapstructure:"user_agents_file"`
	RPS            float64       `mapstructure:"rps"`
	Jitter         float64       `mapstructure:"jitter"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	UseCookieJar   bool          `mapstructure:"use_cookie_jar"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	ChromePath     string        `mapstructure:"chrome_path"`
}

type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	QueueSize    int           `mapstructure:"queue_size"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// SearchConfig points the SERP source at a search engine. ProxiesFile gives
// search its own proxy pool; when empty, search traffic goes direct.
type SearchConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	CountryCode    string `mapstructure:"country_code"`
	LanguageCode   string `mapstructure:"language_code"`
	ResultsPerPage int    `mapstructure:"results_per_page"`
	ProxiesFile    string `mapstructure:"proxies_file"`
}

// RequestConfig holds the defaults applied to settings a caller leaves out.
type RequestConfig struct {
	MaxResults    int           `mapstructure:"max_results"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ScrapingTool  string        `mapstructure:"scraping_tool"`
	MaxRetries    int           `mapstructure:"max_retries"`
	DynamicWait   time.Duration `mapstructure:"dynamic_wait"`
	OutputFormats string        `mapstructure:"output_formats"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 320*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("metrics.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.dsn", "")

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.fingerprint", "chrome")
	v.SetDefault("fetch.proxies_file", "")
	v.SetDefault("fetch.proxy_strikes", 3)
	v.SetDefault("fetch.proxy_cooldown", 5*time.Minute)
	v.SetDefault("fetch.user_agents_file", "")
	v.SetDefault("fetch.rps", 0.0)
	v.SetDefault("fetch.jitter", 0.0)
	v.SetDefault("fetch.max_body_bytes", int64(10<<20))
	v.SetDefault("fetch.use_cookie_jar", false)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.chrome_path", "")

	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.queue_size", 1000)
	v.SetDefault("worker.retry_backoff", 500*time.Millisecond)

	v.SetDefault("search.base_url", "")
	v.SetDefault("search.country_code", "")
	v.SetDefault("search.language_code", "")
	v.SetDefault("search.results_per_page", 10)
	v.SetDefault("search.proxies_file", "")

	v.SetDefault("request.max_results", 3)
	v.SetDefault("request.timeout", 40*time.Second)
	v.SetDefault("request.scraping_tool", "raw-http")
	v.SetDefault("request.max_retries", 1)
	v.SetDefault("request.dynamic_wait", 10*time.Second)
	v.SetDefault("request.output_formats", "text")

	v.SetDefault("drain_grace", time.Second)
}

// Options locate the sources Load reads.
type Options struct {
	// File is a YAML config file. Empty skips it.
	File string
	// EnvFile is a dotenv file. A missing file is not an error.
	EnvFile string
	// Flags are bound by name; a flag "storage.backend" overrides that key
	// when it was set on the command line.
	Flags *pflag.FlagSet
}

// Load resolves the configuration.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if opts.Flags != nil {
		if err := v.BindPFlags(opts.Flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("worker.concurrency must be greater than 0"))
	}
	if c.Fetch.RPS < 0 {
		errs = append(errs, errors.New("fetch.rps cannot be negative"))
	}
	if c.Fetch.Jitter < 0 || c.Fetch.Jitter > 1 {
		errs = append(errs, errors.New("fetch.jitter must be between 0 and 1"))
	}
	if c.Fetch.ProxyStrikes <= 0 {
		errs = append(errs, errors.New("fetch.proxy_strikes must be greater than 0"))
	}
	if c.Search.ResultsPerPage <= 0 {
		errs = append(errs, errors.New("search.results_per_page must be greater than 0"))
	}
	if c.DrainGrace < 0 {
		errs = append(errs, errors.New("drain_grace cannot be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
