// ABOUTME: Configuration loading and parsing for stampdesk
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment overrides
const (
	EnvConfigPath = "STAMPDESK_CONFIG"
	EnvDBPath     = "STAMPDESK_DB_PATH"
)

// Config represents the complete stampdesk configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Stamping  StampingConfig  `yaml:"stamping" toml:"stamping"`
	Email     EmailConfig     `yaml:"email" toml:"email"`
	Harvester HarvesterConfig `yaml:"harvester" toml:"harvester"`
	Audit     AuditConfig     `yaml:"audit" toml:"audit"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr       string        `yaml:"http_addr" toml:"http_addr"`
	AllowedOrigins []string      `yaml:"allowed_origins" toml:"allowed_origins"`
	RestartDelay   time.Duration `yaml:"-" toml:"-"`

	RestartDelayRaw string `yaml:"restart_delay" toml:"restart_delay"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// StorageConfig locates the stack index and document directories
type StorageConfig struct {
	Backend   string `yaml:"backend" toml:"backend"` // json or sqlite
	Path      string `yaml:"path" toml:"path"`
	IntakeDir string `yaml:"intake_dir" toml:"intake_dir"`
	SignedDir string `yaml:"signed_dir" toml:"signed_dir"`
}

// AuthConfig holds authentication configuration. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// StampingConfig holds stamp images and the signer identity
type StampingConfig struct {
	StampDir      string `yaml:"stamp_dir" toml:"stamp_dir"`
	EngineerImage string `yaml:"engineer_image" toml:"engineer_image"`
	CompanyImage  string `yaml:"company_image" toml:"company_image"`
	EngineerName  string `yaml:"engineer_name" toml:"engineer_name"`
	LicenseNumber string `yaml:"license_number" toml:"license_number"`
	RoleTitle     string `yaml:"role_title" toml:"role_title"`
}

// EmailConfig holds the outbound SMTP settings and message templates
type EmailConfig struct {
	Host     string        `yaml:"host" toml:"host"`
	Port     int           `yaml:"port" toml:"port"`
	Username string        `yaml:"username" toml:"username"`
	Password string        `yaml:"password" toml:"password"`
	From     string        `yaml:"from" toml:"from"`
	FromName string        `yaml:"from_name" toml:"from_name"`
	TLS      string        `yaml:"tls" toml:"tls"` // opportunistic, mandatory or none
	Subject  string        `yaml:"subject" toml:"subject"`
	Body     string        `yaml:"body" toml:"body"` // markdown template
	Timeout  time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// KeywordGroup maps a set of words to a document type
type KeywordGroup struct {
	DocType string   `yaml:"doc_type" toml:"doc_type"`
	Words   []string `yaml:"words" toml:"words"`
}

// HarvesterConfig holds mailbox polling settings
type HarvesterConfig struct {
	Enabled       bool           `yaml:"enabled" toml:"enabled"`
	IMAPAddr      string         `yaml:"imap_addr" toml:"imap_addr"`
	Username      string         `yaml:"username" toml:"username"`
	Password      string         `yaml:"password" toml:"password"`
	Mailbox       string         `yaml:"mailbox" toml:"mailbox"`
	Keywords      []KeywordGroup `yaml:"keywords" toml:"keywords"`
	ProjectLabels []string       `yaml:"project_labels" toml:"project_labels"`
	PollInterval  time.Duration  `yaml:"-" toml:"-"`
	Timeout       time.Duration  `yaml:"-" toml:"-"`
	DedupeTTL     time.Duration  `yaml:"-" toml:"-"`

	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
	TimeoutRaw      string `yaml:"timeout" toml:"timeout"`
	DedupeTTLRaw    string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// AuditConfig sizes the audit log ring
type AuditConfig struct {
	Capacity     int `yaml:"capacity" toml:"capacity"`
	SnapshotTail int `yaml:"snapshot_tail" toml:"snapshot_tail"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultKeywords classifies harvested mail when no groups are configured.
// Groups are tried in order; the first matching group wins.
var DefaultKeywords = []KeywordGroup{
	{DocType: "Form 4", Words: []string{"form 4", "form iv", "certificate of occupancy"}},
	{DocType: "Green Building Affidavit", Words: []string{"green building", "affidavit", "energy compliance"}},
	{DocType: "General Approval", Words: []string{"signature", "stamp", "seal", "approval"}},
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if p := os.Getenv(EnvDBPath); p != "" {
		cfg.Storage.Path = p
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, as used when
// no config file exists.
func Default() *Config {
	cfg := &Config{}
	if p := os.Getenv(EnvDBPath); p != "" {
		cfg.Storage.Path = p
	}
	cfg.ApplyDefaults()
	return cfg
}

// ResolvePath picks the config file: the explicit flag, then STAMPDESK_CONFIG,
// then ./stampdesk.yaml. It returns "" when nothing exists.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	for _, p := range []string{"stampdesk.yaml", "stampdesk.toml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.HTTPAddr, "localhost:8080")
	if c.Server.RestartDelay == 0 {
		c.Server.RestartDelay = 5 * time.Second
	}

	setDefault(&c.Tailscale.Hostname, "stampdesk")

	setDefault(&c.Storage.Backend, "json")
	if c.Storage.Path == "" {
		if c.Storage.Backend == "sqlite" {
			c.Storage.Path = "data/stampdesk.db"
		} else {
			c.Storage.Path = "data/signatures.json"
		}
	}
	setDefault(&c.Storage.IntakeDir, "data/intake")
	setDefault(&c.Storage.SignedDir, "data/signed")

	setDefault(&c.Stamping.StampDir, "data/stamps")
	setDefault(&c.Stamping.EngineerImage, "engineer.png")
	setDefault(&c.Stamping.CompanyImage, "company.png")
	setDefault(&c.Stamping.RoleTitle, "Professional Engineer")

	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
	setDefault(&c.Email.TLS, "opportunistic")
	setDefault(&c.Email.Subject, "Signed: {{.ProjectName}}")
	setDefault(&c.Email.Body, defaultBody)
	if c.Email.Timeout == 0 {
		c.Email.Timeout = 30 * time.Second
	}

	setDefault(&c.Harvester.Mailbox, "INBOX")
	if len(c.Harvester.Keywords) == 0 {
		c.Harvester.Keywords = DefaultKeywords
	}
	if len(c.Harvester.ProjectLabels) == 0 {
		c.Harvester.ProjectLabels = []string{"project", "address"}
	}
	if c.Harvester.PollInterval == 0 {
		c.Harvester.PollInterval = 5 * time.Minute
	}
	if c.Harvester.Timeout == 0 {
		c.Harvester.Timeout = time.Minute
	}
	if c.Harvester.DedupeTTL == 0 {
		c.Harvester.DedupeTTL = 24 * time.Hour
	}

	if c.Audit.Capacity <= 0 {
		c.Audit.Capacity = 500
	}
	if c.Audit.SnapshotTail <= 0 {
		c.Audit.SnapshotTail = 100
	}

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "text")
}

const defaultBody = `Hello,

Please find attached the signed **{{.DocType}}** for *{{.ProjectName}}*.

{{if .Notes}}Notes: {{.Notes}}
{{end}}`

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Storage.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be json or sqlite, got %q", c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	switch c.Email.TLS {
	case "opportunistic", "mandatory", "none":
	default:
		return fmt.Errorf("email.tls must be opportunistic, mandatory or none, got %q", c.Email.TLS)
	}
	if c.Email.Port < 0 || c.Email.Port > 65535 {
		return fmt.Errorf("email.port %d is out of range", c.Email.Port)
	}

	if c.Harvester.Enabled {
		if c.Harvester.IMAPAddr == "" {
			return fmt.Errorf("harvester.imap_addr is required when the harvester is enabled")
		}
		if c.Harvester.Username == "" {
			return fmt.Errorf("harvester.username is required when the harvester is enabled")
		}
	}
	for i, g := range c.Harvester.Keywords {
		if g.DocType == "" || len(g.Words) == 0 {
			return fmt.Errorf("harvester.keywords[%d] needs a doc_type and at least one word", i)
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.restart_delay", cfg.Server.RestartDelayRaw, &cfg.Server.RestartDelay},
		{"email.timeout", cfg.Email.TimeoutRaw, &cfg.Email.Timeout},
		{"harvester.poll_interval", cfg.Harvester.PollIntervalRaw, &cfg.Harvester.PollInterval},
		{"harvester.timeout", cfg.Harvester.TimeoutRaw, &cfg.Harvester.Timeout},
		{"harvester.dedupe_ttl", cfg.Harvester.DedupeTTLRaw, &cfg.Harvester.DedupeTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
