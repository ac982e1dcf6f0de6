package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CacheFileEnv overrides the semantic cache location.
const CacheFileEnv = "NEXUMDB_CACHE_FILE"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Policy  PolicyConfig  `yaml:"policy"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`     // HTTP Listen Address (e.g. :8080)
	TCPAddr string `yaml:"tcp_addr"` // TCP Listen Address (e.g. :9090)
}

type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

type CacheConfig struct {
	Enabled             bool    `yaml:"enabled"`
	File                string  `yaml:"file"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxEntries          int     `yaml:"max_entries"`
	EmbeddingMemoSize   int     `yaml:"embedding_memo_size"`
}

type PolicyConfig struct {
	Enabled      bool    `yaml:"enabled"`
	File         string  `yaml:"file"`
	Epsilon      float64 `yaml:"epsilon"`
	LearningRate float64 `yaml:"learning_rate"`
	PersistEvery int     `yaml:"persist_every"`
	Seed         int64   `yaml:"seed"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":8080",
			TCPAddr: ":9090",
		},
		Storage: StorageConfig{
			Path: "nexum_data",
		},
		Cache: CacheConfig{
			Enabled:             true,
			SimilarityThreshold: 0.95,
			MaxEntries:          1000,
			EmbeddingMemoSize:   256,
		},
		Policy: PolicyConfig{
			Enabled:      true,
			Epsilon:      0.1,
			LearningRate: 0.2,
			PersistEvery: 1,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/nexum.yaml", "nexum.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "nexum_data"
	}
	if cfg.Cache.SimilarityThreshold <= 0 || cfg.Cache.SimilarityThreshold > 1 {
		cfg.Cache.SimilarityThreshold = 0.95
	}
	if cfg.Cache.MaxEntries <= 0 {
		cfg.Cache.MaxEntries = 1000
	}
	if cfg.Cache.EmbeddingMemoSize <= 0 {
		cfg.Cache.EmbeddingMemoSize = 256
	}
	// epsilon 0 is a valid pure-greedy policy
	if cfg.Policy.Epsilon < 0 || cfg.Policy.Epsilon > 1 {
		cfg.Policy.Epsilon = 0.1
	}
	if cfg.Policy.LearningRate <= 0 || cfg.Policy.LearningRate > 1 {
		cfg.Policy.LearningRate = 0.2
	}
	if cfg.Policy.PersistEvery <= 0 {
		cfg.Policy.PersistEvery = 1
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// CacheFile resolves the semantic cache path: env override, then the
// configured file, then a file next to the data.
func (c *Config) CacheFile() string {
	if p := os.Getenv(CacheFileEnv); p != "" {
		return p
	}
	if c.Cache.File != "" {
		return c.Cache.File
	}
	return filepath.Join(c.Storage.Path, "semantic_cache.db")
}

func (c *Config) PolicyFile() string {
	if c.Policy.File != "" {
		return c.Policy.File
	}
	return filepath.Join(c.Storage.Path, "policy.db")
}
