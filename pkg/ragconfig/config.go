// Package ragconfig provides unified configuration for the email retrieval
// system. This is the SINGLE SOURCE OF TRUTH for all settings shared between
// the server, the CLI, and the external ingestion tooling.
package ragconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the unified retrieval configuration
type Config struct {
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Spam      SpamConfig      `yaml:"spam"`
	Expansion ExpansionConfig `yaml:"expansion"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Milvus    MilvusConfig    `yaml:"milvus"`
	Database  DatabaseConfig  `yaml:"database"`
}

type RetrievalConfig struct {
	LimitPerQuery   int           `yaml:"limit_per_query"`
	CapPerExpansion int           `yaml:"cap_per_expansion"`
	FinalBudget     int           `yaml:"final_budget"`
	MaxPerThread    int           `yaml:"max_per_thread"`
	RRF             RRFConfig     `yaml:"rrf"`
	Weights         WeightsConfig `yaml:"weights"`
	Rerank          RerankConfig  `yaml:"rerank"`
}

type RRFConfig struct {
	K int `yaml:"k"`
}

// WeightsConfig holds the signal blend per query type. The engine classifies
// each request once and picks one of these two vectors.
type WeightsConfig struct {
	Conceptual SignalWeights `yaml:"conceptual"`
	Specific   SignalWeights `yaml:"specific"`
}

type SignalWeights struct {
	Vector  float64 `yaml:"vector"`
	Lexical float64 `yaml:"lexical"`
}

type RerankConfig struct {
	SubjectWeight         float64 `yaml:"subject_weight"`
	SubjectWeightSpecific float64 `yaml:"subject_weight_specific"`
	SenderBonus           float64 `yaml:"sender_bonus"`
	YearBonus             float64 `yaml:"year_bonus"`
	BoostCap              float64 `yaml:"boost_cap"`
}

// SpamConfig controls the penalty for low-value automated mail. Patterns are
// case-insensitive substring checks, not regular expressions.
type SpamConfig struct {
	Penalty         float64  `yaml:"penalty"`
	SubjectPatterns []string `yaml:"subject_patterns"`
	SenderPatterns  []string `yaml:"sender_patterns"`
}

type ExpansionConfig struct {
	Enabled        bool    `yaml:"enabled"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	MaxTerms       int     `yaml:"max_terms"`
	MaxHistory     int     `yaml:"max_history"`
}

type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

type MilvusConfig struct {
	Address    string             `yaml:"address"`
	Collection string             `yaml:"collection"`
	Index      MilvusIndexConfig  `yaml:"index"`
	Search     MilvusSearchConfig `yaml:"search"`
}

type MilvusIndexConfig struct {
	Type           string `yaml:"type"`
	Metric         string `yaml:"metric"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
}

type MilvusSearchConfig struct {
	Ef              int `yaml:"ef"`
	FetchMultiplier int `yaml:"fetch_multiplier"`
}

type DatabaseConfig struct {
	SQLite   string `yaml:"sqlite"`
	FTSTable string `yaml:"fts_table"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Retrieval: RetrievalConfig{
			LimitPerQuery:   100,
			CapPerExpansion: 200,
			FinalBudget:     10,
			MaxPerThread:    1,
			RRF: RRFConfig{
				K: 60,
			},
			Weights: WeightsConfig{
				Conceptual: SignalWeights{Vector: 0.5, Lexical: 0.5},
				Specific:   SignalWeights{Vector: 0.3, Lexical: 0.7},
			},
			Rerank: RerankConfig{
				SubjectWeight:         0.1,
				SubjectWeightSpecific: 0.25,
				SenderBonus:           0.15,
				YearBonus:             0.15,
				BoostCap:              0.5,
			},
		},
		Spam: SpamConfig{
			Penalty: 0.3,
			SubjectPatterns: []string{
				"order confirmed",
				"order #",
				"automatic reply:",
				"out of office",
				"nightly wrap",
				"your event lineup",
				"top suggestions",
				"recommendations for you",
				"alert:",
				"newsletter",
			},
			SenderPatterns: []string{
				"no-reply",
				"noreply",
				"donotreply",
				"notifications@",
				"alerts@",
			},
		},
		Expansion: ExpansionConfig{
			Enabled:        true,
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 8,
			Temperature:    0.3,
			MaxTokens:      100,
			MaxTerms:       5,
			MaxHistory:     4,
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "text-embedding-3-large",
			Dimension: 3072,
			BatchSize: 50,
		},
		Milvus: MilvusConfig{
			Address:    "localhost:19530",
			Collection: "email_passages",
			Index: MilvusIndexConfig{
				Type:           "HNSW",
				Metric:         "COSINE",
				M:              16,
				EfConstruction: 256,
			},
			Search: MilvusSearchConfig{
				Ef:              128,
				FetchMultiplier: 3,
			},
		},
		Database: DatabaseConfig{
			SQLite:   "mail.db",
			FTSTable: "passages_fts",
		},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default() // Start with defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadFromDir looks for mailrag.yaml in the given directory or parent directories
func LoadFromDir(dir string) (*Config, error) {
	current := dir
	for {
		path := filepath.Join(current, "mailrag.yaml")
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(current)
		if parent == current {
			break // Reached root
		}
		current = parent
	}

	return nil, fmt.Errorf("mailrag.yaml not found in %s or parent directories", dir)
}

// LoadOrDefault tries to load from mailrag.yaml, falls back to defaults
func LoadOrDefault(dir string) *Config {
	cfg, err := LoadFromDir(dir)
	if err != nil {
		return Default()
	}
	return cfg
}

// Hash returns a SHA256 hash of the configuration for change detection
func (c *Config) Hash() string {
	data, _ := yaml.Marshal(c)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// EmbeddingIdentity returns a string identifying the embedding configuration.
// Use this to detect mismatches between index and query embeddings.
func (c *Config) EmbeddingIdentity() string {
	return fmt.Sprintf("%s:%s:%d", c.Embedding.BaseURL, c.Embedding.Model, c.Embedding.Dimension)
}
