// Package config loads axond's YAML configuration with environment
// overrides via viper/mapstructure.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/axon-project/axon/pkg/axerr"
)

// Config is the unified daemon configuration read from YAML plus
// environment overrides.
type Config struct {
	Identity struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"identity"`

	Network struct {
		ListenAddr         string `mapstructure:"listen_addr"`
		StaticPeers        []Peer `mapstructure:"static_peers"`
		InboundCap         int    `mapstructure:"inbound_cap"`
		MaxDiscovered      int    `mapstructure:"max_discovered"`
		StaleTimeoutSecs   int    `mapstructure:"stale_timeout_secs"`
		ReplayGuardTTLSecs int    `mapstructure:"replay_guard_ttl_secs"`
	} `mapstructure:"network"`

	Discovery struct {
		Enabled     bool   `mapstructure:"enabled"`
		ServiceName string `mapstructure:"service_name"`
	} `mapstructure:"discovery"`

	Control struct {
		SocketPath string `mapstructure:"socket_path"`
		QueueDepth int    `mapstructure:"queue_depth"`
	} `mapstructure:"control"`

	Metrics struct {
		Enabled    bool   `mapstructure:"enabled"`
		ListenAddr string `mapstructure:"listen_addr"`
	} `mapstructure:"metrics"`

	StateDir string `mapstructure:"state_dir"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// Peer is one statically configured remote agent.
type Peer struct {
	AgentID string `mapstructure:"agent_id"`
	Addr    string `mapstructure:"addr"`
	Pubkey  string `mapstructure:"pubkey"`
}

// Load reads the YAML file at path and applies AXON_-prefixed environment
// overrides on top of it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, axerr.Wrap(axerr.CodeInternal, fmt.Sprintf("read config file %s", path), err)
	}

	v.SetEnvPrefix("axon")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, axerr.Wrap(axerr.CodeInternal, "unmarshal config", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("identity.dir", "~/.axon/identity")
	v.SetDefault("network.listen_addr", "0.0.0.0:7777")
	v.SetDefault("network.inbound_cap", 128)
	v.SetDefault("network.max_discovered", 1024)
	v.SetDefault("network.stale_timeout_secs", 60)
	v.SetDefault("network.replay_guard_ttl_secs", 0)
	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.service_name", "_axon._udp")
	v.SetDefault("control.socket_path", "~/.axon/control.sock")
	v.SetDefault("control.queue_depth", 1024)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9477")
	v.SetDefault("state_dir", "~/.axon/state")
	v.SetDefault("logging.level", "info")
}
