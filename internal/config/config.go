// Package config loads runtime configuration from .env, an optional YAML
// file and SILENT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gonkalabs/silent-protocol/internal/logging"
)

// Config holds all runtime configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Log      logging.Config `koanf:"log"`
	Sanitize SanitizeConfig `koanf:"sanitize"`
	NER      NERConfig      `koanf:"ner"`
	Intent   IntentConfig   `koanf:"intent"`
	LLM      LLMConfig      `koanf:"llm"`
	Gonka    GonkaConfig    `koanf:"gonka"`
	Session  SessionConfig  `koanf:"session"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SanitizeConfig configures the sanitisation pipeline.
type SanitizeConfig struct {
	// Enabled=false forwards /v1/chat/completions untouched.
	Enabled        bool          `koanf:"enabled"`
	DetectorBudget time.Duration `koanf:"detector_budget"`
	// Seed makes alias generation reproducible. Zero is random.
	Seed uint64 `koanf:"seed"`
}

// NERConfig configures the semantic entity detector sidecar.
type NERConfig struct {
	Enabled   bool    `koanf:"enabled"`
	URL       string  `koanf:"url"`
	Threshold float32 `koanf:"threshold"`
}

// IntentConfig configures the local task/identity classifier.
type IntentConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// LLMConfig configures the upstream LLM that receives sanitised prompts.
type LLMConfig struct {
	// Endpoints is a comma-separated list of OpenAI-compatible base URLs.
	Endpoints   string        `koanf:"endpoints"`
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
	RateLimit   float64       `koanf:"rate_limit"`
	Burst       int           `koanf:"burst"`
	Attempts    int           `koanf:"attempts"`
}

// GonkaConfig switches upstream authorisation to signed requests.
type GonkaConfig struct {
	// Wallets is "key1:addr1,key2:addr2,key3"; addresses are optional.
	Wallets string `koanf:"wallets"`
	// SourceURL, when set, is a node used to discover inference endpoints.
	SourceURL string `koanf:"source_url"`
	// AllowedNodes is a comma-separated list of node addresses to keep.
	AllowedNodes string `koanf:"allowed_nodes"`
	HRP          string `koanf:"hrp"`
}

// SessionConfig configures the in-memory session store.
type SessionConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// WalletCfg holds the credentials for a single wallet.
type WalletCfg struct {
	PrivateKey string
	Address    string
}

// Default returns the configuration used for keys nothing overrides.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    300 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: logging.DefaultConfig(),
		Sanitize: SanitizeConfig{
			Enabled:        true,
			DetectorBudget: 30 * time.Second,
		},
		NER: NERConfig{
			URL:       "http://sanitize-ner:8001",
			Threshold: 0.6,
		},
		Intent: IntentConfig{
			URL:     "http://ollama:11434",
			Model:   "qwen2.5:1.5b-instruct",
			Timeout: 15 * time.Second,
		},
		LLM: LLMConfig{
			Endpoints:   "https://api.groq.com/openai/v1",
			Model:       "llama-3.3-70b-versatile",
			Temperature: 0.7,
			MaxTokens:   2048,
			Timeout:     120 * time.Second,
			Attempts:    3,
		},
		Gonka: GonkaConfig{HRP: "gonka"},
		Session: SessionConfig{
			TTL:           24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
	}
}

// Validate checks the configuration for values nothing downstream can use.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.NER.Threshold < 0 || c.NER.Threshold > 1 {
		errs = append(errs, fmt.Errorf("ner.threshold must be within [0,1], got %v", c.NER.Threshold))
	}
	if c.NER.Enabled && c.NER.URL == "" {
		errs = append(errs, errors.New("ner.url is required when ner is enabled"))
	}
	if c.Intent.Enabled && (c.Intent.URL == "" || c.Intent.Model == "") {
		errs = append(errs, errors.New("intent.url and intent.model are required when intent is enabled"))
	}
	if len(c.LLM.EndpointList()) == 0 && c.Gonka.SourceURL == "" {
		errs = append(errs, errors.New("llm.endpoints or gonka.source_url is required"))
	}
	if c.Gonka.Wallets != "" {
		if _, err := parseMultiWallets(c.Gonka.Wallets); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EndpointList splits Endpoints on commas.
func (l LLMConfig) EndpointList() []string {
	return splitList(l.Endpoints)
}

// AllowedNodeList splits AllowedNodes on commas.
func (g GonkaConfig) AllowedNodeList() []string {
	return splitList(g.AllowedNodes)
}

// WalletList parses Wallets. It returns nil when no wallets are configured.
func (g GonkaConfig) WalletList() ([]WalletCfg, error) {
	if strings.TrimSpace(g.Wallets) == "" {
		return nil, nil
	}
	return parseMultiWallets(g.Wallets)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseMultiWallets parses "key1:addr1,key2:addr2,key3" into WalletCfg slices.
// Keys never contain colons, so each entry splits on its first colon.
func parseMultiWallets(raw string) ([]WalletCfg, error) {
	var wallets []WalletCfg
	for i, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pk, addr, _ := strings.Cut(part, ":")
		pk, addr = strings.TrimSpace(pk), strings.TrimSpace(addr)
		if pk == "" {
			return nil, fmt.Errorf("gonka.wallets entry %d has empty private key", i+1)
		}
		wallets = append(wallets, WalletCfg{PrivateKey: pk, Address: addr})
	}
	if len(wallets) == 0 {
		return nil, errors.New("gonka.wallets is set but contains no valid entries")
	}
	return wallets, nil
}
