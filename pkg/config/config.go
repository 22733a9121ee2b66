package config

// Package config provides a reusable loader for icn-node configuration
// files and environment variables. It is versioned so that applications
// can depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"icn-node/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for an ICN node. It mirrors
// the structure of the YAML files under cmd/config, generalized from the
// donor's Network/Consensus/VM/Storage/Logging sections into this node's
// domain: Mesh, Mana, Governance, Executor, DAG, Logging (SPEC_FULL.md §A).
type Config struct {
	Mesh struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		GossipTopic    string   `mapstructure:"gossip_topic" json:"gossip_topic"`
		MdnsServiceTag string   `mapstructure:"mdns_service_tag" json:"mdns_service_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
	} `mapstructure:"mesh" json:"mesh"`

	Mana struct {
		Capacity            uint64  `mapstructure:"capacity" json:"capacity"`
		MaxSpendLimit       uint64  `mapstructure:"max_spend_limit" json:"max_spend_limit"`
		BaseRegenRate       float64 `mapstructure:"base_regen_rate" json:"base_regen_rate"`
		RegenIntervalSecs   int     `mapstructure:"regen_interval_secs" json:"regen_interval_secs"`
		NetworkHealthFactor float64 `mapstructure:"network_health_factor" json:"network_health_factor"`
	} `mapstructure:"mana" json:"mana"`

	Governance struct {
		MinSponsors        int     `mapstructure:"min_sponsors" json:"min_sponsors"`
		Quorum             uint64  `mapstructure:"quorum" json:"quorum"`
		Threshold          float64 `mapstructure:"threshold" json:"threshold"`
		VotingWindowSecs   int     `mapstructure:"voting_window_secs" json:"voting_window_secs"`
		VetoGracePeriodSec int     `mapstructure:"veto_grace_period_secs" json:"veto_grace_period_secs"`
		TimelockDelaySecs  int     `mapstructure:"timelock_delay_secs" json:"timelock_delay_secs"`
	} `mapstructure:"governance" json:"governance"`

	Executor struct {
		MaxMemoryPages int    `mapstructure:"max_memory_pages" json:"max_memory_pages"`
		MaxFunctions   int    `mapstructure:"max_functions" json:"max_functions"`
		MaxTablePages  int    `mapstructure:"max_table_pages" json:"max_table_pages"`
		FuelPerMana    uint64 `mapstructure:"fuel_per_mana" json:"fuel_per_mana"`
	} `mapstructure:"executor" json:"executor"`

	DAG struct {
		RootDir string `mapstructure:"root_dir" json:"root_dir"`
	} `mapstructure:"dag" json:"dag"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ICN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ICN_ENV", ""))
}
