// Package config loads quill settings. Values come from, in increasing
// precedence: built-in defaults, the YAML config file, environment variables
// and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/csheth/quill/internal/composer"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "QUILL_CONFIG"

// Config is the full set of user settings.
type Config struct {
	LLM        LLMConfig      `yaml:"llm"`
	Composer   ComposerConfig `yaml:"composer"`
	Transcript string         `yaml:"transcript"`
	LogFile    string         `yaml:"log_file"`
	AltScreen  bool           `yaml:"alt_screen"`
}

// LLMConfig selects the chat model.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
}

// ComposerConfig mirrors composer.Options in file form.
type ComposerConfig struct {
	Placeholder  string  `yaml:"placeholder"`
	ClearOnSend  bool    `yaml:"clear_on_send"`
	SingleSlot   bool    `yaml:"compat_single_slot"`
	Errors       string  `yaml:"errors"`
	Unsupported  string  `yaml:"unsupported"`
	Scale        float64 `yaml:"scale"`
	MaxFileBytes int64   `yaml:"max_file_bytes"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Composer: ComposerConfig{
			Placeholder: "Ask a question, attach images or PDFs…",
			ClearOnSend: true,
			Errors:      "surface",
			Unsupported: "ignore",
		},
		AltScreen: true,
	}
}

// Path resolves the config file from QUILL_CONFIG or the user config dir.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "quill", "config.yaml")
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects unknown policy names and nonsensical limits.
func (c Config) Validate() error {
	if _, err := parseErrorPolicy(c.Composer.Errors); err != nil {
		return err
	}
	if _, err := parseUnsupportedPolicy(c.Composer.Unsupported); err != nil {
		return err
	}
	if c.Composer.Scale < 0 {
		return fmt.Errorf("composer.scale must be positive, got %v", c.Composer.Scale)
	}
	if c.Composer.MaxFileBytes < 0 {
		return fmt.Errorf("composer.max_file_bytes must be positive, got %d", c.Composer.MaxFileBytes)
	}
	return nil
}

// ComposerOptions converts the composer settings. Send and ConversationID are
// left for the host to fill in.
func (c Config) ComposerOptions() composer.Options {
	errPolicy, _ := parseErrorPolicy(c.Composer.Errors)
	unsupported, _ := parseUnsupportedPolicy(c.Composer.Unsupported)
	slot := composer.SlotDirect
	if c.Composer.SingleSlot {
		slot = composer.SlotSingle
	}
	return composer.Options{
		Placeholder: c.Composer.Placeholder,
		ClearOnSend: c.Composer.ClearOnSend,
		Errors:      errPolicy,
		Unsupported: unsupported,
		Slot:        slot,
		Scale:       c.Composer.Scale,
		MaxFileSize: c.Composer.MaxFileBytes,
	}
}

func parseErrorPolicy(name string) (composer.ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "surface":
		return composer.ErrorSurface, nil
	case "drop":
		return composer.ErrorDrop, nil
	}
	return 0, fmt.Errorf("composer.errors: unknown policy %q (want surface or drop)", name)
}

func parseUnsupportedPolicy(name string) (composer.UnsupportedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ignore":
		return composer.UnsupportedIgnore, nil
	case "notify":
		return composer.UnsupportedNotify, nil
	}
	return 0, fmt.Errorf("composer.unsupported: unknown policy %q (want ignore or notify)", name)
}

// ApplyEnv overlays LLM selection from the environment. Provider-specific
// variables (OLLAMA_HOST, OPENAI_API_KEY, ...) are read by the llm package.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("QUILL_LLM_PROVIDER")); v != "" {
		c.LLM.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("QUILL_TRANSCRIPT")); v != "" {
		c.Transcript = v
	}
}

// Flags holds the command-line overrides.
type Flags struct {
	fs *flag.FlagSet

	ConfigPath   string
	Conversation string
	ClearOnSend  bool
	SingleSlot   bool
	Model        string
	Endpoint     string
	Provider     string
	NoAltScreen  bool
	LogFile      string
	Transcript   string
}

// BindFlags registers quill's flags on fs.
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVar(&f.ConfigPath, "config", Path(), "path to the YAML config file")
	fs.StringVar(&f.Conversation, "conversation", "", "conversation id to resume (default: start a new one)")
	fs.BoolVar(&f.ClearOnSend, "clear-on-send", true, "clear the draft after a successful send")
	fs.BoolVar(&f.SingleSlot, "compat-single-slot", false, "route image reads through a single pending slot (legacy behaviour, may drop images)")
	fs.StringVar(&f.Model, "llm-model", "", "model name (default: $OLLAMA_MODEL or $OPENAI_MODEL)")
	fs.StringVar(&f.Endpoint, "llm-endpoint", "", "LLM base URL (default: $OLLAMA_HOST or OpenAI)")
	fs.StringVar(&f.Provider, "llm-provider", "", "ollama or openai (default: openai when OPENAI_API_KEY is set)")
	fs.BoolVar(&f.NoAltScreen, "no-alt-screen", false, "disable the alternate screen buffer")
	fs.StringVar(&f.LogFile, "log-file", "", "write logs to this file (default: quill.log in the user cache dir)")
	fs.StringVar(&f.Transcript, "transcript", "", "conversation store (default: conversations.json in the user config dir)")
	return f
}

// Apply copies every flag that was set explicitly onto cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "clear-on-send":
			cfg.Composer.ClearOnSend = f.ClearOnSend
		case "compat-single-slot":
			cfg.Composer.SingleSlot = f.SingleSlot
		case "llm-model":
			cfg.LLM.Model = f.Model
		case "llm-endpoint":
			cfg.LLM.Endpoint = f.Endpoint
		case "llm-provider":
			cfg.LLM.Provider = f.Provider
		case "no-alt-screen":
			cfg.AltScreen = !f.NoAltScreen
		case "log-file":
			cfg.LogFile = f.LogFile
		case "transcript":
			cfg.Transcript = f.Transcript
		}
	})
}

// Resolve runs the full precedence chain after fs has been parsed.
func (f *Flags) Resolve() (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()
	f.Apply(&cfg)
	return cfg, nil
}
