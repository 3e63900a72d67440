package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets variables a developer shell might export.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CONFIG_FILE", "GROQ_API_KEY", "GONKA_WALLETS", "GONKA_PRIVATE_KEY", "GONKA_ADDRESS", "GONKA_SOURCE_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Sanitize.Enabled)
	assert.InDelta(t, 0.6, cfg.NER.Threshold, 1e-6)
	assert.Equal(t, []string{"https://api.groq.com/openai/v1"}, cfg.LLM.EndpointList())
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9000"
ner:
  enabled: true
  threshold: 0.4
llm:
  endpoints: "http://a/v1, http://b/v1"
  model: file-model
session:
  ttl: 1h
`), 0o600))

	t.Setenv("SILENT_LLM_MODEL", "env-model")
	t.Setenv("SILENT_LLM_API_KEY", "sk-env")
	t.Setenv("SILENT_SANITIZE_DETECTOR_BUDGET", "5s")
	t.Setenv("SILENT_SANITIZE_SEED", "42")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.True(t, cfg.NER.Enabled)
	assert.InDelta(t, 0.4, cfg.NER.Threshold, 1e-6)
	assert.Equal(t, []string{"http://a/v1", "http://b/v1"}, cfg.LLM.EndpointList())
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Sanitize.DetectorBudget)
	assert.Equal(t, uint64(42), cfg.Sanitize.Seed)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, 300*time.Second, cfg.Server.WriteTimeout, "unset keys keep defaults")
}

func TestLoadMissingFileIsIgnored(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.NoError(t, err)
}

func TestLoadLegacyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-legacy")
	t.Setenv("GONKA_PRIVATE_KEY", "0xabc")
	t.Setenv("GONKA_ADDRESS", "gonka1me")
	t.Setenv("GONKA_SOURCE_URL", "http://node2.gonka.ai:8000/v1/")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gsk-legacy", cfg.LLM.APIKey)
	assert.Equal(t, "http://node2.gonka.ai:8000", cfg.Gonka.SourceURL)

	wallets, err := cfg.Gonka.WalletList()
	require.NoError(t, err)
	assert.Equal(t, []WalletCfg{{PrivateKey: "0xabc", Address: "gonka1me"}}, wallets)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.NER.Threshold = 1.5
	cfg.LLM.Endpoints = " , "
	cfg.Gonka.Wallets = ":addr"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ner.threshold")
	assert.Contains(t, err.Error(), "llm.endpoints")
	assert.Contains(t, err.Error(), "empty private key")
}

func TestParseMultiWallets(t *testing.T) {
	got, err := parseMultiWallets("k1:a1, k2 ,,k3:")
	require.NoError(t, err)
	assert.Equal(t, []WalletCfg{
		{PrivateKey: "k1", Address: "a1"},
		{PrivateKey: "k2"},
		{PrivateKey: "k3"},
	}, got)

	_, err = parseMultiWallets(" , ")
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "llm.api_key", envKey("SILENT_LLM_API_KEY"))
	assert.Equal(t, "server.addr", envKey("SILENT_SERVER_ADDR"))
	assert.Equal(t, "debug", envKey("SILENT_DEBUG"))
}
