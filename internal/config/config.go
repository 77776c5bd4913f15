// Package config loads CLI configuration from defaults, an optional YAML
// file, LLAMAGLUE_ environment variables and command-line flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const (
	DefaultFile        = "llamaglue.yaml"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultGrammarGlob = "*.gbnf"
	DefaultCacheTTL    = 10 * time.Minute

	envPrefix = "LLAMAGLUE_"
)

// Config is the resolved CLI configuration.
type Config struct {
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
	Vocab     string `koanf:"vocab"`
	// NativeTokenizer renders pieces with the HuggingFace tokenizers library.
	// Only binaries built with the tokenizers tag support it.
	NativeTokenizer bool          `koanf:"native_tokenizer"`
	GrammarDir      string        `koanf:"grammar_dir"`
	GrammarGlob     string        `koanf:"grammar_glob"`
	CacheTTL        time.Duration `koanf:"cache_ttl"`
	Watch           bool          `koanf:"watch"`
	OnnxruntimeLib  string        `koanf:"onnxruntime_lib"`
	Quiet           bool          `koanf:"quiet"`

	// FileUsed is the config file that was read, if any.
	FileUsed string `koanf:"-"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log_level":        DefaultLogLevel,
		"log_format":       DefaultLogFormat,
		"vocab":            "",
		"native_tokenizer": false,
		"grammar_dir":      ".",
		"grammar_glob":     DefaultGrammarGlob,
		"cache_ttl":        DefaultCacheTTL,
		"watch":            false,
		"onnxruntime_lib":  "",
		"quiet":            false,
	}
}

// findConfigFile returns the explicit path, or llamaglue.yaml/.yml in the
// working directory if present.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{DefaultFile, "llamaglue.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load resolves configuration.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. Environment: LLAMAGLUE_GRAMMAR_DIR -> grammar_dir
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were set explicitly
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if _, known := defaults()[key]; !known {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.FileUsed = used

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.GrammarGlob == "" {
		return fmt.Errorf("grammar_glob must not be empty")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative")
	}
	return nil
}
