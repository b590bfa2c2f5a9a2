// Package config loads the relayer's YAML configuration, mirroring the
// teacher node's Config/LoadConfig/DefaultConfig trio.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the relayer service.
type Config struct {
	EVM        EVMConfig        `yaml:"evm"`
	Move       MoveConfig       `yaml:"move"`
	Store      StoreConfig      `yaml:"store"`
	Cache      CacheConfig      `yaml:"cache"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Expiry     ExpiryConfig     `yaml:"expiry"`
	Push       PushConfig       `yaml:"push"`
	Admin      AdminConfig      `yaml:"admin"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EVMConfig configures the EVM observer and the EVM leg of the withdrawal
// executor.
type EVMConfig struct {
	RPCURL        string `yaml:"rpc_url"`
	PushURL       string `yaml:"push_url"`
	ChainID       int64  `yaml:"chain_id"`
	HTLCAddress   string `yaml:"htlc_address"`
	StartBlock    uint64 `yaml:"start_block"`
	Confirmations uint64 `yaml:"confirmations"`
	SignerSeed    string `yaml:"signer_seed"` // bip39 mnemonic, operator-supplied
}

// MoveConfig configures the Move observer and the Move leg of the
// withdrawal executor.
type MoveConfig struct {
	RPCURL          string `yaml:"rpc_url"`
	Network         string `yaml:"network"` // testnet|mainnet|devnet
	PackageID       string `yaml:"package_id"`
	StartCheckpoint uint64 `yaml:"start_checkpoint"`
	SignerSeed      string `yaml:"signer_seed"`
}

// StoreConfig configures the persistent repository backend.
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
}

// CacheConfig configures the hot cache.
type CacheConfig struct {
	Capacity int           `yaml:"capacity"`
	SwapTTL  time.Duration `yaml:"swap_ttl"`
	EventTTL time.Duration `yaml:"event_ttl"`
}

// MonitoringConfig configures observer polling behavior.
type MonitoringConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	BatchSize      uint64        `yaml:"batch_size"`
	BackfillBlocks uint64        `yaml:"backfill_blocks"`
}

// ExpiryConfig configures the coordinator's expiry sweep.
type ExpiryConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	TerminalGrace time.Duration `yaml:"terminal_grace"`
	MaxTimelock   time.Duration `yaml:"max_timelock"`
}

// PushConfig configures the push hub.
type PushConfig struct {
	ListenAddr  string        `yaml:"listen_addr"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// AdminConfig configures the read-only admin query surface.
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with the defaults named in the
// configuration surface: 12 confirmations, 5s poll, 3 retries, 1s retry
// delay, 5 minute expiry sweep with 5 minute terminal grace, 1 year max
// timelock, 15s heartbeat with 30s idle timeout.
func DefaultConfig() *Config {
	return &Config{
		EVM: EVMConfig{
			Confirmations: 12,
		},
		Move: MoveConfig{
			Network: "testnet",
		},
		Store: StoreConfig{
			DataDir: "~/.htlc-relayer",
		},
		Cache: CacheConfig{
			Capacity: 4096,
			SwapTTL:  0, // not read: the coordinator caches non-terminal swaps with a fixed 10-minute TTL
			EventTTL: 24 * time.Hour,
		},
		Monitoring: MonitoringConfig{
			PollInterval:   5 * time.Second,
			MaxRetries:     3,
			RetryDelay:     1 * time.Second,
			BatchSize:      1000,
			BackfillBlocks: 10000,
		},
		Expiry: ExpiryConfig{
			SweepInterval: 5 * time.Minute,
			TerminalGrace: 5 * time.Minute,
			MaxTimelock:   365 * 24 * time.Hour,
		},
		Push: PushConfig{
			ListenAddr:  "127.0.0.1:8091",
			Heartbeat:   15 * time.Second,
			IdleTimeout: 30 * time.Second,
		},
		Admin: AdminConfig{
			ListenAddr: "127.0.0.1:8090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigFileName is the default config file name, relative to the data dir.
const ConfigFileName = "config.yaml"

// ConfigPath returns the default config path for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// LoadConfig loads configuration from a YAML file under dataDir. If the
// file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Store.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := []byte("# HTLC relayer configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks required fields are present before the service starts.
func (c *Config) Validate() error {
	if c.EVM.RPCURL == "" {
		return fmt.Errorf("evm.rpc_url is required")
	}
	if c.EVM.HTLCAddress == "" {
		return fmt.Errorf("evm.htlc_address is required")
	}
	if c.Move.RPCURL == "" {
		return fmt.Errorf("move.rpc_url is required")
	}
	if c.Move.PackageID == "" {
		return fmt.Errorf("move.package_id is required")
	}
	return nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
