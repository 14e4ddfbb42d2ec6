package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dethon/agentrt/internal/agent"
)

// ProviderConfig configures the Anthropic-backed contracts.LLM.
type ProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseURL,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

// WebUIConfig configures the webUi transport's HTTP listener.
type WebUIConfig struct {
	Addr string `json:"addr,omitempty"`
}

// QueueConfig configures the serviceBus transport.
type QueueConfig struct {
	Enabled         bool   `json:"enabled,omitempty"`
	BrokerURL       string `json:"brokerUrl,omitempty"`
	RequestTopic    string `json:"requestTopic,omitempty"`
	ResponseTopic   string `json:"responseTopic,omitempty"`
	DeadLetterTopic string `json:"deadLetterTopic,omitempty"`
}

// TelegramConfig configures the telegram transport.
type TelegramConfig struct {
	Enabled  bool   `json:"enabled,omitempty"`
	BotToken string `json:"botToken,omitempty"`
}

// CLIConfig configures the cli transport.
type CLIConfig struct {
	Enabled        bool   `json:"enabled,omitempty"`
	ConversationID int64  `json:"conversationId,omitempty"`
	ThreadID       int64  `json:"threadId,omitempty"`
	AgentID        string `json:"agentId,omitempty"`
	SenderID       string `json:"senderId,omitempty"`
}

// TransportsConfig selects and configures the transports the composite
// transport registers (spec.md §4.2). WebUI is always on; it is the
// universal observer.
type TransportsConfig struct {
	WebUI    WebUIConfig    `json:"webui,omitempty"`
	Queue    QueueConfig    `json:"queue,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	CLI      CLIConfig      `json:"cli,omitempty"`
}

// PersistenceBackend names which concrete store backs the persistence
// contracts (spec.md §4.10/§6).
type PersistenceBackend string

const (
	BackendFilestore PersistenceBackend = "filestore"
	BackendSQLite    PersistenceBackend = "sqlite"
	BackendPostgres  PersistenceBackend = "postgres"
)

// PersistenceConfig selects and configures the persistence backend.
type PersistenceConfig struct {
	Backend     PersistenceBackend `json:"backend,omitempty"`
	SQLitePath  string             `json:"sqlitePath,omitempty"`
	PostgresDSN string             `json:"postgresDsn,omitempty"`
}

// SchedulerConfig configures internal/sched's poll loop.
type SchedulerConfig struct {
	PollInterval time.Duration `json:"pollInterval,omitempty"`
}

// DashboardConfig configures the Slack mirror sink.
type DashboardConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	BotToken  string `json:"botToken,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
}

// ObservabilityConfig configures metrics and tracing exposure.
type ObservabilityConfig struct {
	MetricsAddr string `json:"metricsAddr,omitempty"`
}

// Config is the runtime's full configuration, loaded from the global and
// project JSONC files and overlaid with environment variables.
type Config struct {
	Provider      ProviderConfig          `json:"provider,omitempty"`
	Agents        map[string]agent.Config `json:"agents,omitempty"`
	Transports    TransportsConfig        `json:"transports,omitempty"`
	Persistence   PersistenceConfig       `json:"persistence,omitempty"`
	Scheduler     SchedulerConfig         `json:"scheduler,omitempty"`
	Dashboard     DashboardConfig         `json:"dashboard,omitempty"`
	Observability ObservabilityConfig     `json:"observability,omitempty"`
}

func empty() *Config {
	return &Config{
		Agents: make(map[string]agent.Config),
		Transports: TransportsConfig{
			WebUI: WebUIConfig{Addr: ":8080"},
		},
		Persistence: PersistenceConfig{Backend: BackendFilestore},
	}
}

// Load loads configuration from, in override order: the global config file,
// the project config file under directory, then environment variables.
func Load(directory string) (*Config, error) {
	cfg := empty()

	loadConfigFile(GlobalConfigPath(), cfg)
	if directory != "" {
		loadConfigFile(ProjectConfigPath(directory), cfg)
	}
	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadConfigFile merges the JSONC file at path into cfg, if it exists.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data = stripJSONComments(data)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	mergeConfig(cfg, &fileConfig)
	return nil
}

var (
	singleLineComment = regexp.MustCompile(`//.*$`)
	multiLineComment  = regexp.MustCompile(`/\*[\s\S]*?\*/`)
)

// stripJSONComments removes // and /* */ comments from JSONC source.
func stripJSONComments(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = singleLineComment.ReplaceAll(line, nil)
	}
	data = bytes.Join(lines, []byte("\n"))
	return multiLineComment.ReplaceAll(data, nil)
}

// mergeConfig merges source into target, source's non-zero fields winning.
func mergeConfig(target, source *Config) {
	if source.Provider.APIKey != "" {
		target.Provider.APIKey = source.Provider.APIKey
	}
	if source.Provider.BaseURL != "" {
		target.Provider.BaseURL = source.Provider.BaseURL
	}
	if source.Provider.Model != "" {
		target.Provider.Model = source.Provider.Model
	}
	if source.Provider.MaxTokens != 0 {
		target.Provider.MaxTokens = source.Provider.MaxTokens
	}

	if source.Agents != nil {
		if target.Agents == nil {
			target.Agents = make(map[string]agent.Config)
		}
		for k, v := range source.Agents {
			target.Agents[k] = v
		}
	}

	if source.Transports.WebUI.Addr != "" {
		target.Transports.WebUI.Addr = source.Transports.WebUI.Addr
	}
	if source.Transports.Queue.Enabled {
		target.Transports.Queue = source.Transports.Queue
	}
	if source.Transports.Telegram.Enabled {
		target.Transports.Telegram = source.Transports.Telegram
	}
	if source.Transports.CLI.Enabled {
		target.Transports.CLI = source.Transports.CLI
	}

	if source.Persistence.Backend != "" {
		target.Persistence = source.Persistence
	}

	if source.Scheduler.PollInterval != 0 {
		target.Scheduler.PollInterval = source.Scheduler.PollInterval
	}

	if source.Dashboard.Enabled {
		target.Dashboard = source.Dashboard
	}

	if source.Observability.MetricsAddr != "" {
		target.Observability.MetricsAddr = source.Observability.MetricsAddr
	}
}

// applyEnvOverrides applies the highest-precedence environment variable
// overrides.
func applyEnvOverrides(cfg *Config) {
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Provider.APIKey = apiKey
	}
	if model := os.Getenv("AGENTRT_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if addr := os.Getenv("AGENTRT_WEBUI_ADDR"); addr != "" {
		cfg.Transports.WebUI.Addr = addr
	}
	if token := os.Getenv("AGENTRT_TELEGRAM_TOKEN"); token != "" {
		cfg.Transports.Telegram.Enabled = true
		cfg.Transports.Telegram.BotToken = token
	}
	if token := os.Getenv("AGENTRT_SLACK_TOKEN"); token != "" {
		cfg.Dashboard.Enabled = true
		cfg.Dashboard.BotToken = token
	}
	if channel := os.Getenv("AGENTRT_SLACK_CHANNEL"); channel != "" {
		cfg.Dashboard.ChannelID = channel
	}
}

// Watch follows the project config file at directory under fsnotify and
// invokes onChange with a freshly reloaded Config after every write, until
// ctx is canceled. It runs in the calling goroutine; callers should invoke
// it with `go`.
func Watch(ctx context.Context, directory string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: new watcher: %w", err)
	}
	defer watcher.Close()

	path := ProjectConfigPath(directory)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(directory)
			if err != nil {
				continue
			}
			onChange(cfg)
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// Save writes cfg as indented JSON to path, creating parent directories as
// needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
