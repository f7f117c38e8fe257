package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Oracle    Oracle    `mapstructure:"oracle"`
	Redis     Redis     `mapstructure:"redis"`
	Autotrade Autotrade `mapstructure:"autotrade"`
	Logger    Logger    `mapstructure:"logger"`
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
}

// Oracle holds the configuration for the market-data lookup.
type Oracle struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	FallbackPrice  float64       `mapstructure:"fallback_price"`
	Tokens         []Token       `mapstructure:"tokens"`
}

// Token is one entry of the tradable token catalogue.
type Token struct {
	Name       string  `mapstructure:"name"`
	Symbol     string  `mapstructure:"symbol"`
	Address    string  `mapstructure:"address"`
	Volatility float64 `mapstructure:"volatility"`
}

// Redis holds the configuration for the shared quote cache.
// When disabled the oracle caches quotes in process memory.
type Redis struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Autotrade holds the session and registry settings.
type Autotrade struct {
	DailySessionLimit int           `mapstructure:"daily_session_limit"`
	SessionDuration   time.Duration `mapstructure:"session_duration"`
	UIRefreshInterval time.Duration `mapstructure:"ui_refresh_interval"`
	RestorePolicy     string        `mapstructure:"restore_policy"`
	HistoryLimit      int           `mapstructure:"history_limit"`
}

// Server holds the ports of the status API and the history viewer.
type Server struct {
	Port        int `mapstructure:"port"`
	HistoryPort int `mapstructure:"history_port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	err = v.ReadInConfig()
	if err != nil {
		return
	}

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("database.dsn", "autotrade.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.history_port", 8081)

	v.SetDefault("oracle.base_url", "https://api.dexscreener.com")
	v.SetDefault("oracle.timeout", 5*time.Second)
	v.SetDefault("oracle.rate_limit", 5)       // requests per second
	v.SetDefault("oracle.rate_limit_burst", 5) // burst size
	v.SetDefault("oracle.cache_ttl", 3*time.Second)
	v.SetDefault("oracle.fallback_price", 0.000001)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")

	v.SetDefault("autotrade.daily_session_limit", 3)
	v.SetDefault("autotrade.session_duration", 10*time.Minute)
	v.SetDefault("autotrade.ui_refresh_interval", time.Minute)
	v.SetDefault("autotrade.restore_policy", "force_stop")
	v.SetDefault("autotrade.history_limit", 10)
}
