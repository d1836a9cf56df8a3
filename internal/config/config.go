package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"cosmosai/internal/domain"
)

const (
	VendorRetell = "retell"
	VendorVapi   = "vapi"
)

// Config stores runtime configuration for the voice shell and the broker.
type Config struct {
	Vendor  VendorConfig
	Modes   []domain.ModeConfig
	Session SessionConfig
	Server  ServerConfig
	Leads   LeadsConfig
	Log     LogConfig
}

type VendorConfig struct {
	Name      string
	APIBase   string
	EventsURL string
}

type SessionConfig struct {
	BrokerURL      string
	SettleDelay    time.Duration
	ConnectTimeout time.Duration
	SampleRate     int
}

type ServerConfig struct {
	ListenAddr string
}

type LeadsConfig struct {
	DSN string
	Dir string
}

type LogConfig struct {
	Level  string
	Format string
}

// modesFile is the optional YAML alternative to per-mode env vars.
type modesFile struct {
	Modes []struct {
		Name      string `yaml:"name"`
		AgentID   string `yaml:"agent_id"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"modes"`
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	vendor := strings.ToLower(envOrDefault("COSMOS_VENDOR", VendorRetell))
	if vendor != VendorRetell && vendor != VendorVapi {
		return Config{}, fmt.Errorf("unsupported COSMOS_VENDOR %q", vendor)
	}

	var (
		modes []domain.ModeConfig
		err   error
	)
	if path := strings.TrimSpace(os.Getenv("COSMOS_MODES_FILE")); path != "" {
		modes, err = loadModesFile(path)
	} else {
		modes, err = modesFromEnv(vendor, envOrDefault("COSMOS_MODES", "english,hindi"))
	}
	if err != nil {
		return Config{}, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	cfg := Config{
		Vendor: VendorConfig{
			Name:      vendor,
			APIBase:   strings.TrimSpace(os.Getenv(strings.ToUpper(vendor) + "_API_BASE")),
			EventsURL: strings.TrimSpace(os.Getenv("COSMOS_EVENTS_URL")),
		},
		Modes: modes,
		Session: SessionConfig{
			BrokerURL:      envOrDefault("COSMOS_BROKER_URL", "http://localhost:8080/api/token"),
			SettleDelay:    time.Duration(envOrDefaultInt("COSMOS_SETTLE_DELAY_MS", 1000)) * time.Millisecond,
			ConnectTimeout: time.Duration(envOrDefaultInt("COSMOS_CONNECT_TIMEOUT_MS", 15000)) * time.Millisecond,
			SampleRate:     envOrDefaultInt("COSMOS_SAMPLE_RATE", 24000),
		},
		Server: ServerConfig{
			ListenAddr: envOrDefault("COSMOS_LISTEN_ADDR", ":8080"),
		},
		Leads: LeadsConfig{
			DSN: firstNonEmpty(os.Getenv("COSMOS_LEADS_DSN"), os.Getenv("SUPABASE_DB_URL")),
			Dir: envOrDefault("COSMOS_LEADS_DIR", filepath.Join(home, ".local", "share", "cosmos", "leads")),
		},
		Log: LogConfig{
			Level:  envOrDefault("COSMOS_LOG_LEVEL", "info"),
			Format: envOrDefault("COSMOS_LOG_FORMAT", "console"),
		},
	}

	if cfg.Session.SettleDelay < 0 {
		cfg.Session.SettleDelay = time.Second
	}
	if cfg.Session.ConnectTimeout <= 0 {
		cfg.Session.ConnectTimeout = 15 * time.Second
	}
	if cfg.Session.SampleRate <= 0 {
		cfg.Session.SampleRate = 24000
	}

	return cfg, nil
}

// ModeNames lists the configured modes in order.
func (c Config) ModeNames() []domain.Mode {
	names := make([]domain.Mode, 0, len(c.Modes))
	for _, mode := range c.Modes {
		names = append(names, mode.Mode)
	}
	return names
}

// LookupMode returns the settings for mode, if it is configured.
func (c Config) LookupMode(mode domain.Mode) (domain.ModeConfig, bool) {
	for _, candidate := range c.Modes {
		if candidate.Mode == mode {
			return candidate, true
		}
	}
	return domain.ModeConfig{}, false
}

// modesFromEnv reads <VENDOR>_API_KEY_<MODE> and <VENDOR>_AGENT_ID_<MODE>.
// Modes missing either value stay listed so the broker can report them.
func modesFromEnv(vendor string, list string) ([]domain.ModeConfig, error) {
	prefix := strings.ToUpper(vendor)
	var modes []domain.ModeConfig
	seen := map[domain.Mode]bool{}
	for _, raw := range strings.Split(list, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[domain.Mode(name)] {
			continue
		}
		seen[domain.Mode(name)] = true

		suffix := envSuffix(name)
		modes = append(modes, domain.ModeConfig{
			Mode:   domain.Mode(name),
			APIKey: strings.TrimSpace(os.Getenv(prefix + "_API_KEY_" + suffix)),
			AgentID: firstNonEmpty(
				os.Getenv(prefix+"_AGENT_ID_"+suffix),
				os.Getenv("NEXT_PUBLIC_"+prefix+"_AGENT_ID_"+suffix),
			),
		})
	}
	if len(modes) == 0 {
		return nil, errors.New("COSMOS_MODES does not name any mode")
	}
	return modes, nil
}

func loadModesFile(path string) ([]domain.ModeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file modesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var modes []domain.ModeConfig
	seen := map[domain.Mode]bool{}
	for i, entry := range file.Modes {
		name := strings.ToLower(strings.TrimSpace(entry.Name))
		if name == "" {
			return nil, fmt.Errorf("parse %s: mode %d has no name", path, i+1)
		}
		if seen[domain.Mode(name)] {
			return nil, fmt.Errorf("parse %s: duplicate mode %q", path, name)
		}
		seen[domain.Mode(name)] = true

		apiKey := strings.TrimSpace(entry.APIKey)
		if apiKey == "" && entry.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(entry.APIKeyEnv))
		}
		modes = append(modes, domain.ModeConfig{
			Mode:    domain.Mode(name),
			AgentID: strings.TrimSpace(entry.AgentID),
			APIKey:  apiKey,
		})
	}
	if len(modes) == 0 {
		return nil, fmt.Errorf("parse %s: no modes defined", path)
	}
	return modes, nil
}

func envSuffix(mode string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(mode))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
