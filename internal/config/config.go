package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Graph      GraphConfig
	Summarizer SummarizerConfig
	Log        LogConfig
	Worker     WorkerConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	Backend       string
	DataDir       string
	MongoURI      string
	MongoDatabase string
}

type GraphConfig struct {
	BaseURL      string
	TenantID     string
	ClientID     string
	ClientSecret string
	TokenURL     string
	MailSender   string
	TeamID       string
}

type SummarizerConfig struct {
	Backend      string
	FlowURL      string
	FlowToken    string
	OllamaURL    string
	OllamaModel  string
	GeminiAPIKey string
	GeminiModel  string
}

type LogConfig struct {
	Level string
}

type WorkerConfig struct {
	PollInterval string
	MaxAttempts  int
}

// Poll returns the parsed poll interval, or the default when it does not
// parse.
func (w WorkerConfig) Poll() time.Duration {
	d, err := time.ParseDuration(w.PollInterval)
	if err != nil || d <= 0 {
		return defaultPollInterval
	}
	return d
}

const defaultPollInterval = 2 * time.Second

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			Backend:       "sqlite",
			DataDir:       defaultDataDir(),
			MongoDatabase: "tagask",
		},
		Graph: GraphConfig{
			BaseURL: "https://graph.microsoft.com/v1.0",
		},
		Summarizer: SummarizerConfig{
			Backend:     "flow",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.2",
			GeminiModel: "gemini-2.5-flash",
		},
		Log: LogConfig{
			Level: "info",
		},
		Worker: WorkerConfig{
			PollInterval: defaultPollInterval.String(),
			MaxAttempts:  3,
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/tagask/config.json, then applies TAGASK_* environment
// variables. Secrets not set in the environment are read from
// $XDG_DATA_HOME/tagask/secrets.json.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), NewSecretStore())
}

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "sqlite":
	case "mongo":
		if c.Storage.MongoURI == "" {
			errs = append(errs, errors.New("storage.backend is mongo but no MongoDB URI is set; "+
				"set it via environment variable TAGASK_MONGO_URI"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be sqlite or mongo, got %q", c.Storage.Backend))
	}
	switch c.Summarizer.Backend {
	case "flow", "ollama", "gemini":
	default:
		errs = append(errs, fmt.Errorf("summarizer.backend must be flow, ollama or gemini, got %q", c.Summarizer.Backend))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("worker.max_attempts must be at least 1, got %d", c.Worker.MaxAttempts))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// GraphAppConfigured reports whether app-only Graph credentials are set.
func (c Config) GraphAppConfigured() bool {
	g := c.Graph
	return g.ClientID != "" && g.ClientSecret != "" && (g.TenantID != "" || g.TokenURL != "")
}
