package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "SILENT_"
	maxConfigFileSize = 1024 * 1024
)

// Load reads .env (if present), then the YAML file at path (or $CONFIG_FILE
// when path is empty; a missing file is not an error), then SILENT_*
// environment variables, over Default().
//
// Environment variables map to keys by splitting on the first underscore
// after the prefix:
//
//	SILENT_SERVER_ADDR     -> server.addr
//	SILENT_LLM_API_KEY     -> llm.api_key
//	SILENT_NER_THRESHOLD   -> ner.threshold
func Load(path string) (*Config, error) {
	// Best-effort: load .env from the working directory.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}

	k := koanf.New(".")
	if path != "" {
		content, err := readConfigFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyLegacyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps SILENT_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return io.ReadAll(f)
}

// applyLegacyEnv honours the variable names earlier deployments used when
// the SILENT_* equivalents are unset.
func applyLegacyEnv(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
	}
	if cfg.Gonka.Wallets == "" {
		if multi := strings.TrimSpace(os.Getenv("GONKA_WALLETS")); multi != "" {
			cfg.Gonka.Wallets = multi
		} else if pk := strings.TrimSpace(os.Getenv("GONKA_PRIVATE_KEY")); pk != "" {
			cfg.Gonka.Wallets = pk
			if addr := strings.TrimSpace(os.Getenv("GONKA_ADDRESS")); addr != "" {
				cfg.Gonka.Wallets += ":" + addr
			}
		}
	}
	if cfg.Gonka.SourceURL == "" {
		src := strings.TrimRight(strings.TrimSpace(os.Getenv("GONKA_SOURCE_URL")), "/")
		cfg.Gonka.SourceURL = strings.TrimSuffix(src, "/v1")
	}
}
