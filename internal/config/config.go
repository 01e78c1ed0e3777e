package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"load-forecast/internal/forecast"
)

// Config is the complete application configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Retrieval   RetrievalConfig `mapstructure:"retrieval"`
	Forecast    ForecastConfig  `mapstructure:"forecast"`
	Holidays    HolidayConfig   `mapstructure:"holidays"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// URL renders the connection as a postgres:// URL, as expected by golang-migrate.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + strconv.Itoa(d.Port),
		Path:     "/" + d.Database,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RetrievalConfig controls how stored series are localized.
type RetrievalConfig struct {
	// ReferenceTZ is the fixed-offset zone the store keeps its wall-clock timestamps in.
	ReferenceTZ string `mapstructure:"reference_tz"`
	// SummertimeTZ is the zone series are converted to when offset_summertime is requested.
	SummertimeTZ    string `mapstructure:"summertime_tz"`
	CheckResolution bool   `mapstructure:"check_resolution"`
}

type ForecastConfig struct {
	MaxWindowSize  int    `mapstructure:"max_window_size"`
	WindowSize     int    `mapstructure:"window_size"`
	ExpandStep     int    `mapstructure:"expand_step"`
	NValMin        int    `mapstructure:"n_val_min"`
	NIterMax       int    `mapstructure:"n_iter_max"`
	DaytypeReplace int    `mapstructure:"daytype_replace"`
	TZ             string `mapstructure:"tz"`
	Freq           string `mapstructure:"freq"`
	Workers        int    `mapstructure:"workers"`
}

// Options converts the forecast section into rollout options.
func (f ForecastConfig) Options() forecast.Options {
	return forecast.Options{
		MaxWindowSize:  f.MaxWindowSize,
		WindowSize:     f.WindowSize,
		ExpandStep:     f.ExpandStep,
		NValMin:        f.NValMin,
		NIterMax:       f.NIterMax,
		DaytypeReplace: f.DaytypeReplace,
		TZ:             f.TZ,
		Freq:           f.Freq,
	}
}

type HolidayConfig struct {
	Country string `mapstructure:"country"`
	Canton  string `mapstructure:"canton"`
}

// LoadConfig reads .env, config.yaml (./configs or the working directory, or any of
// searchPaths) and environment variables, in increasing order of precedence over the defaults.
func LoadConfig(searchPaths ...string) (*Config, error) {
	// .env is optional; it usually carries the database credentials.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(searchPaths) == 0 {
		searchPaths = []string{"./configs", "."}
	}
	for _, p := range searchPaths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Environment = strings.ToLower(cfg.Environment)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "load_forecast")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "300s")
	v.SetDefault("database.conn_max_idle_time", "60s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "1h")

	v.SetDefault("retrieval.reference_tz", "Etc/GMT-1")
	v.SetDefault("retrieval.summertime_tz", "CET")
	v.SetDefault("retrieval.check_resolution", true)

	defaults := forecast.DefaultOptions()
	v.SetDefault("forecast.max_window_size", defaults.MaxWindowSize)
	v.SetDefault("forecast.window_size", defaults.WindowSize)
	v.SetDefault("forecast.expand_step", defaults.ExpandStep)
	v.SetDefault("forecast.n_val_min", defaults.NValMin)
	v.SetDefault("forecast.n_iter_max", defaults.NIterMax)
	v.SetDefault("forecast.daytype_replace", defaults.DaytypeReplace)
	v.SetDefault("forecast.tz", defaults.TZ)
	v.SetDefault("forecast.freq", defaults.Freq)
	v.SetDefault("forecast.workers", 4)

	v.SetDefault("holidays.country", "CH")
	v.SetDefault("holidays.canton", "SG")
}

// Validate rejects configurations the services cannot start with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Database.Host == "" || c.Database.Database == "" {
		return errors.New("database.host and database.dbname are required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive, got %d", c.Database.MaxOpenConns)
	}
	if c.Redis.Enabled && c.Redis.TTL <= 0 {
		return fmt.Errorf("redis.ttl must be positive when redis is enabled, got %s", c.Redis.TTL)
	}
	for _, tz := range []string{c.Retrieval.ReferenceTZ, c.Retrieval.SummertimeTZ} {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid retrieval timezone %q: %w", tz, err)
		}
	}
	if c.Forecast.Workers < 1 {
		return fmt.Errorf("forecast.workers must be >= 1, got %d", c.Forecast.Workers)
	}
	if _, _, err := c.Forecast.Options().Validate(); err != nil {
		return fmt.Errorf("invalid forecast options: %w", err)
	}
	if !strings.EqualFold(c.Holidays.Country, "CH") {
		return fmt.Errorf("unsupported holiday country %q", c.Holidays.Country)
	}
	return nil
}
