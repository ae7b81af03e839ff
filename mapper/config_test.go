package mapper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadConfigMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTaxonomyURL, cfg.Taxonomy.URL)
	assert.Equal(t, 2*time.Minute, cfg.Taxonomy.Timeout.Std())
	assert.Equal(t, BackendONNX, cfg.Embedder.Backend)
	assert.Equal(t, ":8501", cfg.Server.Addr)
	assert.Equal(t, "17", cfg.Layer.AttackVersion)
	assert.Equal(t, DefaultPlatforms, cfg.Layer.Platforms)
}

func TestSaveAndLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	cfg := Config{}
	cfg.Embedder.Backend = BackendLexical
	cfg.Embedder.CachePath = filepath.Join(dir, "cache", "vectors.db")
	cfg.Server.ResultTTL = Duration(15 * time.Minute)
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BackendLexical, loaded.Embedder.Backend)
	assert.Equal(t, 15*time.Minute, loaded.Server.ResultTTL.Std())
	info, err := os.Stat(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attackmap.yaml")
	doc := `
taxonomy:
  path: ./enterprise-attack.json
  timeout: 30s
embedder:
  backend: openai
  openai:
    model: text-embedding-3-large
    requestsPerMinute: 120
layer:
  title: Detection Backlog
server:
  addr: ":9000"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "./enterprise-attack.json", cfg.Taxonomy.Path)
	assert.Equal(t, 30*time.Second, cfg.Taxonomy.Timeout.Std())
	assert.Equal(t, BackendOpenAI, cfg.Embedder.Backend)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, 120, cfg.Embedder.OpenAI.RequestsPerMinute)
	assert.Equal(t, 64, cfg.Embedder.OpenAI.BatchSize)
	assert.Equal(t, "Detection Backlog", cfg.Layer.Title)
	assert.Equal(t, ":9000", cfg.Server.Addr)
}

func TestLoadConfigRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())
	require.NoError(t, json.Unmarshal([]byte(`45`), &d))
	assert.Equal(t, 45*time.Second, d.Std())
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	out, err := json.Marshal(Duration(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, `"1h0m0s"`, string(out))
}

func TestDurationYAML(t *testing.T) {
	var cfg struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 2m\nb: 30\n"), &cfg))
	assert.Equal(t, 2*time.Minute, cfg.A.Std())
	assert.Equal(t, 30*time.Second, cfg.B.Std())
	assert.Error(t, yaml.Unmarshal([]byte("a: soon\n"), &cfg))
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ATTACKMAP_ADDR", ":7000")
	t.Setenv("ATTACKMAP_EMBEDDER", BackendLexical)
	t.Setenv("ATTACKMAP_TAXONOMY_PATH", "/data/attack.json")
	cfg := Config{}
	cfg.ApplyDefaults()
	cfg.ApplyEnv()
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, BackendLexical, cfg.Embedder.Backend)
	assert.Equal(t, "/data/attack.json", cfg.Taxonomy.Path)
	assert.Equal(t, DefaultTaxonomyURL, cfg.Taxonomy.URL)
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	clone := cfg.Clone()
	clone.Layer.Platforms[0] = "Plan9"
	assert.Equal(t, "Linux", cfg.Layer.Platforms[0])
}
