package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Engine   EngineConfig   `mapstructure:"engine"`
	Clusters ClustersConfig `mapstructure:"clusters"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Risk     RiskConfig     `mapstructure:"risk"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	// DSN empty selects the in-memory store.
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ClusterRefresh string `mapstructure:"cluster_refresh"`
}

type EngineConfig struct {
	TPMultiplier       float64 `mapstructure:"tp_multiplier"`
	PartialTPFraction  float64 `mapstructure:"partial_tp_fraction"`
	TrailingRetracePct float64 `mapstructure:"trailing_retrace_pct"`
	MaxDoublings       int     `mapstructure:"max_doublings"`

	LadderStartFraction float64 `mapstructure:"ladder_start_fraction"`
	LadderRungs         int     `mapstructure:"ladder_rungs"`
	CapitalCapFraction  float64 `mapstructure:"capital_cap_fraction"`
}

type ClustersConfig struct {
	// DefaultBands are fractional offsets from the reference price,
	// nearest first.
	DefaultBands []float64            `mapstructure:"default_bands"`
	PerSymbol    map[string][]float64 `mapstructure:"per_symbol"`
}

type FeedConfig struct {
	Symbols []string       `mapstructure:"symbols"`
	Rest    RestFeedConfig `mapstructure:"rest"`
	WS      WSFeedConfig   `mapstructure:"ws"`
}

type RestFeedConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Endpoint     string        `mapstructure:"endpoint"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type WSFeedConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type NotifyConfig struct {
	QueueSize  int    `mapstructure:"queue_size"`
	WebhookURL string `mapstructure:"webhook_url"`
}

type RiskConfig struct {
	Window      time.Duration `mapstructure:"window"`
	FullRiskPct float64       `mapstructure:"full_risk_pct"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.cluster_refresh", "@every 1m")

	v.SetDefault("engine.tp_multiplier", 1.75)
	v.SetDefault("engine.partial_tp_fraction", 0.5)
	v.SetDefault("engine.trailing_retrace_pct", 0.02)
	v.SetDefault("engine.max_doublings", 4)
	v.SetDefault("engine.ladder_start_fraction", 0.02)
	v.SetDefault("engine.ladder_rungs", 4)
	v.SetDefault("engine.capital_cap_fraction", 0.5)

	v.SetDefault("clusters.default_bands", []float64{0.03, 0.06})

	v.SetDefault("feed.symbols", []string{"BTCUSDT"})
	v.SetDefault("feed.rest.enabled", true)
	v.SetDefault("feed.rest.endpoint", "https://api.binance.com/api/v3/ticker/price")
	v.SetDefault("feed.rest.poll_interval", "2s")
	v.SetDefault("feed.ws.enabled", false)
	v.SetDefault("feed.ws.url", "wss://stream.binance.com:9443/stream")

	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.webhook_url", "")

	v.SetDefault("risk.window", "15m")
	v.SetDefault("risk.full_risk_pct", 2.0)

	if !envOnly && strings.TrimSpace(path) != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
