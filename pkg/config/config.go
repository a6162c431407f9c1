package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration of a burrow manager process
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	API       APIConfig       `mapstructure:"api"`
	Raft      RaftConfig      `mapstructure:"raft"`
	DNS       DNSConfig       `mapstructure:"dns"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	TSDB      TSDBConfig      `mapstructure:"tsdb"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Log       LogConfig       `mapstructure:"log"`
}

// NodeConfig identifies this node in the cluster
type NodeConfig struct {
	ID      string `mapstructure:"id"`
	DataDir string `mapstructure:"data_dir"`
	Address string `mapstructure:"address"`
}

// APIConfig configures the HTTP control API
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// RaftConfig configures cluster replication
type RaftConfig struct {
	BindAddr  string `mapstructure:"bind_addr"`
	Bootstrap bool   `mapstructure:"bootstrap"`
	JoinAddr  string `mapstructure:"join_addr"`
}

// DNSConfig configures the discovery DNS server
type DNSConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	ListenAddr string   `mapstructure:"listen_addr"`
	Domain     string   `mapstructure:"domain"`
	Upstream   []string `mapstructure:"upstream"`
}

// SchedulerConfig configures the convergence loops
type SchedulerConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	ReconcileEvery   time.Duration `mapstructure:"reconcile_every"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	TaskGrace        time.Duration `mapstructure:"task_grace"`
}

// ScrapeConfig configures the metrics scrape engine
type ScrapeConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	DownAfter  int           `mapstructure:"down_after"`
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// TSDBConfig configures sample retention
type TSDBConfig struct {
	Retention  time.Duration `mapstructure:"retention"`
	MaxSamples int           `mapstructure:"max_samples"`
}

// AlertsConfig configures the alert evaluator
type AlertsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Window   time.Duration `mapstructure:"window"`
}

// LogConfig configures logging output
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads configuration from the given file, falling back to default
// search paths, with BURROW_-prefixed environment variables overriding file
// values. A missing config file is not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/burrow")
		v.SetConfigName("burrow")
	}
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("BURROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.data_dir", "/var/lib/burrow")
	v.SetDefault("node.address", "127.0.0.1")

	v.SetDefault("api.listen_addr", ":8080")

	v.SetDefault("raft.bind_addr", "127.0.0.1:7000")
	v.SetDefault("raft.bootstrap", true)

	v.SetDefault("dns.enabled", false)
	v.SetDefault("dns.listen_addr", "127.0.0.1:5300")
	v.SetDefault("dns.domain", "burrow")
	v.SetDefault("dns.upstream", []string{"8.8.8.8:53"})

	v.SetDefault("scheduler.interval", "5s")
	v.SetDefault("scheduler.reconcile_every", "10s")
	v.SetDefault("scheduler.heartbeat_timeout", "30s")
	v.SetDefault("scheduler.task_grace", "1m")

	v.SetDefault("scrape.interval", "15s")
	v.SetDefault("scrape.timeout", "10s")
	v.SetDefault("scrape.down_after", 3)
	v.SetDefault("scrape.max_backoff", "5m")

	v.SetDefault("tsdb.retention", "360h")
	v.SetDefault("tsdb.max_samples", 1_000_000)

	v.SetDefault("alerts.interval", "30s")
	v.SetDefault("alerts.window", "5m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}
