package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

const (
	defaultWorkers      = 4
	defaultQueueSize    = 128
	defaultFetchTimeout = 20
)

func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %04o; should be 0600", path, perm)
	}
	return nil
}

type Config struct {
	Inbox   InboxConfig   `yaml:"inbox"`
	AI      AIConfig      `yaml:"ai,omitempty"`
	Email   EmailConfig   `yaml:"email,omitempty"`
	Browser BrowserConfig `yaml:"browser,omitempty"`
	Worker  WorkerConfig  `yaml:"worker,omitempty"`
}

// InboxConfig holds IMAP settings for the monitored mailbox
type InboxConfig struct {
	Provider string `yaml:"provider"` // "gmail", "outlook", "imap"
	Server   string `yaml:"server"`   // e.g., "imap.gmail.com"
	Port     int    `yaml:"port"`     // e.g., 993
	Email    string `yaml:"email"`    // Mailbox to monitor
	Password string `yaml:"password"` // App password (not main password)
	Folder   string `yaml:"folder"`   // Folder to monitor (default: "INBOX")
}

// AIConfig holds settings for the external reasoning model
type AIConfig struct {
	APIKeyEnv  string `yaml:"api_key_env,omitempty"` // Env var holding the API key (default: ANTHROPIC_API_KEY)
	Model      string `yaml:"model,omitempty"`
	TimeoutSec int    `yaml:"timeout_sec,omitempty"`
}

// EmailConfig holds settings for sending mailto: unsubscribe requests
type EmailConfig struct {
	Provider string     `yaml:"provider"` // "smtp", "resend", "sendgrid"
	From     string     `yaml:"from"`
	APIKey   string     `yaml:"api_key,omitempty"` // resend/sendgrid
	SMTP     SMTPConfig `yaml:"smtp,omitempty"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

// BrowserConfig holds headless-browser automation settings
type BrowserConfig struct {
	Headless      bool   `yaml:"headless"`
	TimeoutSec    int    `yaml:"timeout_sec"`
	ScreenshotDir string `yaml:"screenshot_dir,omitempty"`
}

// WorkerConfig sizes the unsubscribe job runner
type WorkerConfig struct {
	Workers         int `yaml:"workers"`    // fetch/parse/AI pool size
	QueueSize       int `yaml:"queue_size"` // pending job buffer
	FetchTimeoutSec int `yaml:"fetch_timeout_sec"`
	MaxAttempts     int `yaml:"max_attempts"` // engine attempts per job trigger
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".mailsweep", "config.yaml")
}

func Load(path string) (*Config, error) {
	if err := checkFilePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: %v\n", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Inbox.Folder == "" {
		c.Inbox.Folder = "INBOX"
	}
	if c.Inbox.Provider == "gmail" && c.Inbox.Server == "" {
		c.Inbox.Server = "imap.gmail.com"
		c.Inbox.Port = 993
	}
	if c.Inbox.Provider == "outlook" && c.Inbox.Server == "" {
		c.Inbox.Server = "outlook.office365.com"
		c.Inbox.Port = 993
	}

	if c.AI.APIKeyEnv == "" {
		c.AI.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.AI.TimeoutSec == 0 {
		c.AI.TimeoutSec = 60
	}

	if c.Browser.TimeoutSec == 0 {
		c.Browser.TimeoutSec = 60
	}
	c.Browser.Headless = true // Default to headless

	if c.Worker.Workers == 0 {
		c.Worker.Workers = defaultWorkers
	}
	if c.Worker.QueueSize == 0 {
		c.Worker.QueueSize = defaultQueueSize
	}
	if c.Worker.FetchTimeoutSec == 0 {
		c.Worker.FetchTimeoutSec = defaultFetchTimeout
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 2
	}
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) Validate() error {
	if c.Inbox.Email == "" {
		return fmt.Errorf("inbox: email address is required")
	}
	if c.Inbox.Password == "" {
		return fmt.Errorf("inbox: password (app password) is required")
	}
	if c.Inbox.Server == "" {
		return fmt.Errorf("inbox: IMAP server is required")
	}
	if c.Inbox.Port == 0 {
		return fmt.Errorf("inbox: IMAP port is required")
	}
	return nil
}

// ValidateEmail checks the sender config; only required when mailto:
// unsubscribe targets should be handled.
func (c *Config) ValidateEmail() error {
	switch c.Email.Provider {
	case "":
		return fmt.Errorf("email: provider is required")
	case "smtp":
		if c.Email.SMTP.Host == "" {
			return fmt.Errorf("email.smtp: host is required")
		}
		if c.Email.SMTP.Port == 0 {
			return fmt.Errorf("email.smtp: port is required")
		}
	case "resend", "sendgrid":
		if c.Email.APIKey == "" {
			return fmt.Errorf("email: api_key is required for %s", c.Email.Provider)
		}
	default:
		return fmt.Errorf("email: unknown provider %q (smtp, resend or sendgrid)", c.Email.Provider)
	}
	if c.Email.From == "" {
		return fmt.Errorf("email: from address is required")
	}
	return nil
}
