package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/markatally/agentloop/internal/secrets"
)

// ProviderConfig selects and configures the model provider
type ProviderConfig struct {
	Name   string `json:"name"` // "anthropic", "openai" or "google"
	Model  string `json:"model"`
	APIKey string `json:"api_key"`
}

// ExaConfig holds Exa AI Search API configuration
type ExaConfig struct {
	APIKey string `json:"api_key"`
}

// SearchConfig holds configuration for web search providers
type SearchConfig struct {
	Provider string    `json:"provider"` // "exa" or ""
	Exa      ExaConfig `json:"exa"`
}

// Limits bounds how much machinery a single task may invoke
type Limits struct {
	MaxSteps              int `json:"max_steps"`
	TurnTimeoutSeconds    int `json:"turn_timeout_seconds"`
	SearchCallsPerTask    int `json:"search_calls_per_task"`
	ConsecutiveFailureCap int `json:"consecutive_failure_cap"`
}

// SecretsSettings tracks whether persisted API keys are password-protected.
// The verifier is a fixed plaintext encrypted under the active password so
// a wrong password is detected before any real field is touched.
type SecretsSettings struct {
	PasswordSet bool   `json:"password_set,omitempty"`
	Verifier    string `json:"verifier,omitempty"`
}

// Config is the top-level application configuration
type Config struct {
	Provider    ProviderConfig  `json:"provider"`
	Search      SearchConfig    `json:"search"`
	Limits      Limits          `json:"limits"`
	Secrets     SecretsSettings `json:"secrets,omitempty"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`

	ListenAddr    string `json:"listen_addr"`
	ArtifactDir   string `json:"artifact_dir"`
	SessionDBPath string `json:"session_db_path"`

	LogLevel string `json:"log_level"`
	LogPath  string `json:"log_path"`

	// ExcludeYearOnlyInStrict drops year-precision dates from strict date
	// windows instead of applying the year-overlap rule.
	ExcludeYearOnlyInStrict bool `json:"exclude_year_only_in_strict"`

	secretsPassword string `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "agentloop")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "agentloop")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "agentloop")
	}
}

func defaultStateDir() string {
	homeDir, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		return defaultConfigDir()
	default:
		return filepath.Join(homeDir, ".local", "state", "agentloop")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		Provider: ProviderConfig{Name: "anthropic"},
		Search:   SearchConfig{Provider: ""},
		Limits: Limits{
			MaxSteps:              10,
			TurnTimeoutSeconds:    300,
			SearchCallsPerTask:    1,
			ConsecutiveFailureCap: 2,
		},
		Temperature:   0.7,
		MaxTokens:     4096,
		ListenAddr:    "127.0.0.1:8889",
		ArtifactDir:   filepath.Join(stateDir, "artifacts"),
		SessionDBPath: filepath.Join(stateDir, "sessions.db"),
		LogLevel:      "info",
		LogPath:       filepath.Join(stateDir, "agentloop.log"),
	}
}

// Load loads configuration from file, falling back to defaults for a
// missing file and for any field the file leaves unset.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	if config.Limits.MaxSteps <= 0 {
		config.Limits.MaxSteps = 10
	}
	if config.Limits.TurnTimeoutSeconds <= 0 {
		config.Limits.TurnTimeoutSeconds = 300
	}
	if config.Limits.SearchCallsPerTask <= 0 {
		config.Limits.SearchCallsPerTask = 1
	}
	if config.Limits.ConsecutiveFailureCap <= 0 {
		config.Limits.ConsecutiveFailureCap = 2
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.SessionDBPath == "" {
		config.SessionDBPath = filepath.Join(defaultStateDir(), "sessions.db")
	}
	if config.ArtifactDir == "" {
		config.ArtifactDir = filepath.Join(defaultStateDir(), "artifacts")
	}

	return config, nil
}

// verifierPlaintext is the fixed value encrypted as the password check
const verifierPlaintext = "agentloop"

// ApplySecretsPassword records the active password and decrypts any
// encrypted API-key fields in place. A wrong password fails on the
// verifier before touching any field.
func (c *Config) ApplySecretsPassword(password string) error {
	if c.Secrets.PasswordSet {
		if c.Secrets.Verifier == "" {
			return fmt.Errorf("config declares a secrets password but carries no verifier")
		}
		plain, _, err := secrets.DecryptString(c.Secrets.Verifier, password)
		if err != nil {
			return fmt.Errorf("secrets password rejected: %w", err)
		}
		if plain != verifierPlaintext {
			return fmt.Errorf("secrets password rejected: %w", secrets.ErrWrongPassword)
		}
	}

	for _, field := range []*string{&c.Provider.APIKey, &c.Search.Exa.APIKey} {
		plain, encrypted, err := secrets.DecryptString(*field, password)
		if err != nil {
			return fmt.Errorf("failed to decrypt api key: %w", err)
		}
		if encrypted {
			*field = plain
		}
	}

	c.secretsPassword = password
	return nil
}

// SetSecretsPassword switches the password used for the next Save. An empty
// password turns protection off and keys persist in plaintext again.
func (c *Config) SetSecretsPassword(password string) {
	c.secretsPassword = password
	c.Secrets.PasswordSet = password != ""
	if password == "" {
		c.Secrets.Verifier = ""
	}
}

// Save saves configuration to file. When a secrets password is active, the
// API-key fields are written encrypted; the in-memory config keeps its
// plaintext values.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	persisted := *c
	if c.secretsPassword != "" {
		var err error
		if persisted.Provider.APIKey, err = secrets.EncryptString(c.Provider.APIKey, c.secretsPassword); err != nil {
			return fmt.Errorf("failed to encrypt provider api key: %w", err)
		}
		if persisted.Search.Exa.APIKey, err = secrets.EncryptString(c.Search.Exa.APIKey, c.secretsPassword); err != nil {
			return fmt.Errorf("failed to encrypt search api key: %w", err)
		}
		if persisted.Secrets.Verifier, err = secrets.EncryptString(verifierPlaintext, c.secretsPassword); err != nil {
			return fmt.Errorf("failed to encrypt verifier: %w", err)
		}
		persisted.Secrets.PasswordSet = true
	}

	data, err := json.MarshalIndent(&persisted, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
