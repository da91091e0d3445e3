package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// Interval, timeout and TTL values in the JSON files are plain integer
// seconds. They land in the *Seconds fields and applyDefaults converts
// them into the time.Duration fields the rest of the code uses.
type CascoinConfig struct {
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	User                  string `mapstructure:"user"`
	Password              string `mapstructure:"password"`
	Network               string `mapstructure:"network"` // mainnet | testnet | regtest
	RequiredConfirmations int64  `mapstructure:"required_confirmations"`
	PollIntervalSeconds   int64  `mapstructure:"poll_interval"`
	RPCTimeoutSeconds     int64  `mapstructure:"rpc_timeout"`

	PollInterval time.Duration `mapstructure:"-"`
	RPCTimeout   time.Duration `mapstructure:"-"`
}

type PolygonConfig struct {
	RPCUrl                string `mapstructure:"rpc_url"`
	ChainID               uint64 `mapstructure:"chain_id"`
	WcasContract          string `mapstructure:"wcas_contract"`
	CollectionAddress     string `mapstructure:"collection_address"`
	MinterPrivateKey      string `mapstructure:"minter_private_key"`
	RequiredConfirmations int64  `mapstructure:"required_confirmations"`
	PollIntervalSeconds   int64  `mapstructure:"poll_interval"`
	StartBlock            uint64 `mapstructure:"start_block"`
	GasLimit              uint64 `mapstructure:"gas_limit"`
	RPCTimeoutSeconds     int64  `mapstructure:"rpc_timeout"`
	TxTimeoutSeconds      int64  `mapstructure:"tx_timeout"`
	PriorityFeeGwei       int64  `mapstructure:"priority_fee_gwei"`

	PollInterval time.Duration `mapstructure:"-"`
	RPCTimeout   time.Duration `mapstructure:"-"`
	TxTimeout    time.Duration `mapstructure:"-"`
}

type SponsorConfig struct {
	Mnemonic   string  `mapstructure:"mnemonic"`
	TTLSeconds int64   `mapstructure:"ttl"`
	GasAmount  float64 `mapstructure:"gas_amount"` // native token units

	TTL time.Duration `mapstructure:"-"`
}

type IntentionConfig struct {
	TTLSeconds int64 `mapstructure:"ttl"`

	TTL time.Duration `mapstructure:"-"`
}

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Cascoin   CascoinConfig   `mapstructure:"cascoin"`
	Polygon   PolygonConfig   `mapstructure:"polygon"`
	Sponsor   SponsorConfig   `mapstructure:"sponsor"`
	Intention IntentionConfig `mapstructure:"intention"`
}

func LoadEnv() error {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	// A missing .env file is fine when everything comes from the process env.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// Load reads the per-environment JSON config file and merges the secrets
// that only live in the environment. The resulting handle is constructed
// once in cmd and passed into every component explicitly.
func Load(environment string) (*Config, error) {
	var cfg Config

	viper.SetConfigFile(fmt.Sprintf("data/%s/bridge.json", environment))
	viper.SetConfigType("json")
	if err := viper.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("error reading bridge config file: %w", err)
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling bridge config: %w", err)
	}

	// Secrets come from the environment, never from the JSON file.
	cfg.Database.URL = viper.GetString("DATABASE_URL")
	if pass := viper.GetString("CASCOIN_RPC_PASSWORD"); pass != "" {
		cfg.Cascoin.Password = pass
	}
	if key := viper.GetString("MINTER_PRIVATE_KEY"); key != "" {
		cfg.Polygon.MinterPrivateKey = key
	}
	if mnemonic := viper.GetString("SPONSOR_MNEMONIC"); mnemonic != "" {
		cfg.Sponsor.Mnemonic = mnemonic
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func secondsOrDefault(seconds int64, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func (c *Config) applyDefaults() {
	if c.Cascoin.RequiredConfirmations == 0 {
		c.Cascoin.RequiredConfirmations = 6
	}
	c.Cascoin.PollInterval = secondsOrDefault(c.Cascoin.PollIntervalSeconds, 60*time.Second)
	c.Cascoin.RPCTimeout = secondsOrDefault(c.Cascoin.RPCTimeoutSeconds, 30*time.Second)
	if c.Polygon.RequiredConfirmations == 0 {
		c.Polygon.RequiredConfirmations = 12
	}
	c.Polygon.PollInterval = secondsOrDefault(c.Polygon.PollIntervalSeconds, 15*time.Second)
	if c.Polygon.GasLimit == 0 {
		c.Polygon.GasLimit = 300000
	}
	c.Polygon.RPCTimeout = secondsOrDefault(c.Polygon.RPCTimeoutSeconds, 30*time.Second)
	c.Polygon.TxTimeout = secondsOrDefault(c.Polygon.TxTimeoutSeconds, 120*time.Second)
	if c.Polygon.PriorityFeeGwei == 0 {
		c.Polygon.PriorityFeeGwei = 30
	}
	if c.Sponsor.GasAmount == 0 {
		c.Sponsor.GasAmount = 0.05
	}
	c.Sponsor.TTL = secondsOrDefault(c.Sponsor.TTLSeconds, 24*time.Hour)
	c.Intention.TTL = secondsOrDefault(c.Intention.TTLSeconds, 7*24*time.Hour)
}
