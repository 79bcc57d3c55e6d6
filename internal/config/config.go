// Package config loads service settings from defaults, an optional YAML file and
// COMPLYLAW_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrNoDatabase is returned with an otherwise usable Config when no database URL is set.
// Callers decide whether they can run on the in-memory store.
var ErrNoDatabase = errors.New("DATABASE_URL not set")

type Config struct {
	Env         string `mapstructure:"env"`
	LogLevel    string `mapstructure:"log_level"`
	ListenAddr  string `mapstructure:"listen_addr"`
	DatabaseURL string `mapstructure:"database_url"`

	Scan     ScanConfig     `mapstructure:"scan"`
	Intake   IntakeConfig   `mapstructure:"intake"`
	External ExternalConfig `mapstructure:"external"`
	Live     LiveConfig     `mapstructure:"live"`
	Probes   ProbeConfig    `mapstructure:"probes"`
}

type ScanConfig struct {
	Workers         int           `mapstructure:"workers"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	JobTimeout      time.Duration `mapstructure:"job_timeout"`
	UnitTimeout     time.Duration `mapstructure:"unit_timeout"`
	Parallelism     int           `mapstructure:"parallelism"`
	VerboseFindings bool          `mapstructure:"verbose_findings"`
	// RiskJitter enables the cosmetic jitter on computed risk scores.
	RiskJitter bool   `mapstructure:"risk_jitter"`
	TiersFile  string `mapstructure:"tiers_file"`
}

type IntakeConfig struct {
	PerHour int `mapstructure:"per_hour"`
	Burst   int `mapstructure:"burst"`
}

type ExternalConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LiveConfig struct {
	Buffer         int      `mapstructure:"buffer"`
	PGChannel      string   `mapstructure:"pg_channel"`
	OriginPatterns []string `mapstructure:"origin_patterns"`
	MQTTBroker     string   `mapstructure:"mqtt_broker"`
	MQTTClientID   string   `mapstructure:"mqtt_client_id"`
	MQTTPrefix     string   `mapstructure:"mqtt_prefix"`
	MQTTUsername   string   `mapstructure:"mqtt_username"`
	MQTTPassword   string   `mapstructure:"mqtt_password"`
}

type ProbeConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	DNSServer         string  `mapstructure:"dns_server"`
	NiktoBinary       string  `mapstructure:"nikto_binary"`
	NmapTopPorts      int     `mapstructure:"nmap_top_ports"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")
	v.SetDefault("log_level", "info")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database_url", "")

	v.SetDefault("scan.workers", 0)
	v.SetDefault("scan.poll_interval", 500*time.Millisecond)
	v.SetDefault("scan.job_timeout", 15*time.Minute)
	v.SetDefault("scan.unit_timeout", 15*time.Second)
	v.SetDefault("scan.parallelism", 1)
	v.SetDefault("scan.verbose_findings", false)
	v.SetDefault("scan.risk_jitter", false)
	v.SetDefault("scan.tiers_file", "")

	v.SetDefault("intake.per_hour", 20)
	v.SetDefault("intake.burst", 5)

	v.SetDefault("external.url", "")
	v.SetDefault("external.api_key", "")
	v.SetDefault("external.timeout", 10*time.Second)

	v.SetDefault("live.buffer", 32)
	v.SetDefault("live.pg_channel", "complylaw_live")
	v.SetDefault("live.origin_patterns", []string{})
	v.SetDefault("live.mqtt_broker", "")
	v.SetDefault("live.mqtt_client_id", "complylaw")
	v.SetDefault("live.mqtt_prefix", "complylaw/")
	v.SetDefault("live.mqtt_username", "")
	v.SetDefault("live.mqtt_password", "")

	v.SetDefault("probes.user_agent", "complylaw-scanner/1.0")
	v.SetDefault("probes.requests_per_second", 5.0)
	v.SetDefault("probes.dns_server", "8.8.8.8:53")
	v.SetDefault("probes.nikto_binary", "nikto")
	v.SetDefault("probes.nmap_top_ports", 100)
}

// Load reads the configuration. path may be empty. A missing database URL yields
// ErrNoDatabase alongside a complete Config; any other error is fatal.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("complylaw")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unprefixed names kept for existing deployments.
	for key, legacy := range map[string]string{
		"env":          "APP_ENV",
		"listen_addr":  "LISTEN_ADDR",
		"database_url": "DATABASE_URL",
		"scan.workers": "SCAN_WORKERS",
	} {
		if err := v.BindEnv(key, "COMPLYLAW_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy); err != nil {
			return Config{}, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return cfg, ErrNoDatabase
	}
	return cfg, nil
}

// Development reports whether human-friendly logging is wanted.
func (c Config) Development() bool { return c.Env == "development" }
