package mapper

import (
	"encoding/json"
	"time"
)

// Backend names accepted in EmbedderConfig.Backend.
const (
	BackendONNX    = "onnx"
	BackendOpenAI  = "openai"
	BackendLexical = "lexical"
)

// Sentinel values written into Match fields when a record could not be mapped.
const (
	SentinelNA    = "N/A"
	SentinelError = "Error"
)

// DefaultTaxonomyURL is the enterprise ATT&CK STIX bundle, always the latest release.
const DefaultTaxonomyURL = "https://raw.githubusercontent.com/mitre-attack/attack-stix-data/master/enterprise-attack/enterprise-attack.json"

// Match is the best technique for one input record.
type Match struct {
	Tactic    string   `json:"tactic"`
	Technique string   `json:"technique"`
	URL       string   `json:"url"`
	Tactics   []string `json:"tactics"`
	Score     float32  `json:"score"`
}

// Failed reports whether the match carries a sentinel instead of a technique.
func (m Match) Failed() bool {
	return m.Technique == SentinelNA || m.Technique == SentinelError || m.Technique == ""
}

func sentinelMatch(value string) Match {
	return Match{Tactic: value, Technique: value, URL: value, Tactics: []string{}}
}

// TaxonomyConfig controls where the ATT&CK bundle comes from.
type TaxonomyConfig struct {
	URL string `json:"url" yaml:"url"`
	// Path points at a local STIX snapshot. When set it wins over URL.
	Path    string   `json:"path,omitempty" yaml:"path,omitempty"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// OpenAIConfig configures the OpenAI-compatible embeddings backend.
type OpenAIConfig struct {
	Model             string `json:"model" yaml:"model"`
	APIKey            string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL           string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	BatchSize         int    `json:"batchSize" yaml:"batchSize"`
	Concurrency       int    `json:"concurrency" yaml:"concurrency"`
	RequestsPerMinute int    `json:"requestsPerMinute" yaml:"requestsPerMinute"`
}

// EmbedderConfig wraps the configuration for the embedding backend and cache.
type EmbedderConfig struct {
	Backend       string       `json:"backend" yaml:"backend"`
	OrtDLL        string       `json:"ortDll" yaml:"ortDll"`
	ModelPath     string       `json:"modelPath" yaml:"modelPath"`
	TokenizerPath string       `json:"tokenizerPath" yaml:"tokenizerPath"`
	MaxSeqLen     int          `json:"maxSeqLen" yaml:"maxSeqLen"`
	UseGPU        bool         `json:"useGpu" yaml:"useGpu"`
	CachePath     string       `json:"cachePath" yaml:"cachePath"`
	ModelID       string       `json:"modelId" yaml:"modelId"`
	Dimensions    int          `json:"dimensions" yaml:"dimensions"`
	OpenAI        OpenAIConfig `json:"openai" yaml:"openai"`
}

// ServerConfig holds web front-end settings.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr"`
	RedisURL       string   `json:"redisUrl,omitempty" yaml:"redisUrl,omitempty"`
	ResultTTL      Duration `json:"resultTtl" yaml:"resultTtl"`
	BodyLimitMB    int      `json:"bodyLimitMb" yaml:"bodyLimitMb"`
	RequestsPerMin int      `json:"requestsPerMin" yaml:"requestsPerMin"`
	WatchTaxonomy  bool     `json:"watchTaxonomy" yaml:"watchTaxonomy"`
}

// Config aggregates runtime settings persisted to config.json or config.yaml.
type Config struct {
	Taxonomy TaxonomyConfig `json:"taxonomy" yaml:"taxonomy"`
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`
	Layer    LayerOptions   `json:"layer" yaml:"layer"`
	Server   ServerConfig   `json:"server" yaml:"server"`
}

// Clone creates a deep copy of the configuration so callers can mutate safely.
func (c Config) Clone() Config {
	buf, _ := json.Marshal(c)
	var out Config
	_ = json.Unmarshal(buf, &out)
	return out
}

// ApplyDefaults populates zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Taxonomy.URL == "" {
		c.Taxonomy.URL = DefaultTaxonomyURL
	}
	if c.Taxonomy.Timeout == 0 {
		c.Taxonomy.Timeout = Duration(2 * time.Minute)
	}
	if c.Embedder.Backend == "" {
		c.Embedder.Backend = BackendONNX
	}
	if c.Embedder.MaxSeqLen == 0 {
		c.Embedder.MaxSeqLen = 256
	}
	if c.Embedder.ModelPath == "" {
		c.Embedder.ModelPath = "./models/all-MiniLM-L6-v2/model.onnx"
	}
	if c.Embedder.TokenizerPath == "" {
		c.Embedder.TokenizerPath = "./models/all-MiniLM-L6-v2/tokenizer.json"
	}
	if c.Embedder.Dimensions == 0 {
		c.Embedder.Dimensions = 384
	}
	if c.Embedder.OpenAI.Model == "" {
		c.Embedder.OpenAI.Model = "text-embedding-3-small"
	}
	if c.Embedder.OpenAI.BatchSize <= 0 {
		c.Embedder.OpenAI.BatchSize = 64
	}
	if c.Embedder.OpenAI.Concurrency <= 0 {
		c.Embedder.OpenAI.Concurrency = 2
	}
	c.Layer.applyDefaults()
	if c.Server.Addr == "" {
		c.Server.Addr = ":8501"
	}
	if c.Server.ResultTTL == 0 {
		c.Server.ResultTTL = Duration(time.Hour)
	}
	if c.Server.BodyLimitMB <= 0 {
		c.Server.BodyLimitMB = 32
	}
	if c.Server.RequestsPerMin <= 0 {
		c.Server.RequestsPerMin = 60
	}
}
