package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.json"

// Duration is a time.Duration that reads and writes as "90s", "2m" and so on.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON encodes the duration as a string such as "2m0s".
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v) * time.Second)
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts a duration string or an integer number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!int" {
		var secs int64
		if err := node.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfig loads configuration from the given path or the default config.json.
// A missing file yields the defaults. Files ending in .yaml or .yml are read as YAML.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = defaultConfigFile
	}
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if dir := filepath.Dir(cfg.Embedder.CachePath); cfg.Embedder.CachePath != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return cfg, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return cfg, nil
}

// SaveConfig persists configuration to disk.
func SaveConfig(path string, cfg Config) error {
	if path == "" {
		path = defaultConfigFile
	}
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfg.ApplyDefaults()
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from ATTACKMAP_* environment variables.
func (c *Config) ApplyEnv() {
	c.Server.Addr = getEnv("ATTACKMAP_ADDR", c.Server.Addr)
	c.Server.RedisURL = getEnv("ATTACKMAP_REDIS_URL", c.Server.RedisURL)
	c.Taxonomy.URL = getEnv("ATTACKMAP_TAXONOMY_URL", c.Taxonomy.URL)
	c.Taxonomy.Path = getEnv("ATTACKMAP_TAXONOMY_PATH", c.Taxonomy.Path)
	c.Embedder.Backend = getEnv("ATTACKMAP_EMBEDDER", c.Embedder.Backend)
	c.Embedder.OrtDLL = getEnv("ATTACKMAP_ORT_DLL", c.Embedder.OrtDLL)
	c.Embedder.ModelPath = getEnv("ATTACKMAP_MODEL_PATH", c.Embedder.ModelPath)
	c.Embedder.TokenizerPath = getEnv("ATTACKMAP_TOKENIZER_PATH", c.Embedder.TokenizerPath)
	c.Embedder.CachePath = getEnv("ATTACKMAP_CACHE_PATH", c.Embedder.CachePath)
	c.Embedder.OpenAI.BaseURL = getEnv("ATTACKMAP_OPENAI_BASE_URL", c.Embedder.OpenAI.BaseURL)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
