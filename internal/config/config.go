// Package config loads service configuration from an optional YAML file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Store       StoreConfig       `yaml:"store"`
	Auth        AuthConfig        `yaml:"auth"`
	Approval    ApprovalConfig    `yaml:"approval"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	NATS        NATSConfig        `yaml:"nats"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Users       []UserConfig      `yaml:"users"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

// ServerConfig describes the HTTP and gRPC listeners.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// DatabaseConfig describes the PostgreSQL connection.
type DatabaseConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Database    string        `yaml:"database"`
	SSLMode     string        `yaml:"ssl_mode"`
	MaxConns    int32         `yaml:"max_conns"`
	MinConns    int32         `yaml:"min_conns"`
	MaxConnTime time.Duration `yaml:"max_conn_time"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	HealthCheck time.Duration `yaml:"health_check"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `yaml:"driver"`
}

// AuthConfig describes bearer token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	AdminRole string `yaml:"admin_role"`
}

// ApprovalConfig holds the fixed parts of the approval chain.
type ApprovalConfig struct {
	TerminalRole      string   `yaml:"terminal_role"`
	DefaultOrder      []string `yaml:"default_order"`
	ApproverPattern   string   `yaml:"approver_pattern"`
	EnforceCallerRole bool     `yaml:"enforce_caller_role"`
}

// AttachmentsConfig describes where bill images are stored.
type AttachmentsConfig struct {
	BaseURL      string   `yaml:"base_url"`
	PublicPrefix string   `yaml:"public_prefix"`
	MaxFileSize  int64    `yaml:"max_file_size"`
	MaxFiles     int      `yaml:"max_files"`
	Extensions   []string `yaml:"extensions"`
}

// NATSConfig describes the notification bus. An empty URL disables publishing.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// TracingConfig toggles the stdout span exporter.
type TracingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputFile string `yaml:"output_file"`
}

// UserConfig seeds the static user directory used for display labels.
type UserConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Service.Name, "SERVICE_NAME")
	setString(&cfg.Service.Version, "SERVICE_VERSION")
	setString(&cfg.Service.Environment, "ENVIRONMENT")
	setString(&cfg.Service.LogLevel, "LOG_LEVEL")

	setInt(&cfg.Server.Port, "HTTP_PORT")
	setInt(&cfg.Server.GRPCPort, "GRPC_PORT")

	setString(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Database, "DB_NAME")
	setString(&cfg.Database.SSLMode, "DB_SSL_MODE")

	setString(&cfg.Store.Driver, "STORE_DRIVER")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setString(&cfg.Attachments.BaseURL, "ATTACHMENTS_DIR")
	setString(&cfg.NATS.URL, "NATS_URL")

	if v := os.Getenv("ALLOW_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("APPROVAL_ENFORCE_CALLER_ROLE"); v != "" {
		cfg.Approval.EnforceCallerRole, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled, _ = strconv.ParseBool(v)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "be-expense-approvals"
	}
	if cfg.Service.Version == "" {
		cfg.Service.Version = "dev"
	}
	if cfg.Service.Environment == "" {
		cfg.Service.Environment = "development"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 6666
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9086
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.HandlerTimeout == 0 {
		cfg.Server.HandlerTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = "dev-secret"
	}
	if cfg.Auth.AdminRole == "" {
		cfg.Auth.AdminRole = "admin"
	}
	if cfg.Approval.TerminalRole == "" {
		cfg.Approval.TerminalRole = "accountant"
	}
	if len(cfg.Approval.DefaultOrder) == 0 {
		cfg.Approval.DefaultOrder = []string{"approver1", "approver2", "approver3"}
	}
	if cfg.Approval.ApproverPattern == "" {
		cfg.Approval.ApproverPattern = `^approver\d+$`
	}
	if cfg.Attachments.BaseURL == "" {
		cfg.Attachments.BaseURL = "data/uploads"
	}
	if cfg.Attachments.PublicPrefix == "" {
		cfg.Attachments.PublicPrefix = "/uploads"
	}
	if cfg.Attachments.MaxFileSize == 0 {
		cfg.Attachments.MaxFileSize = 10 << 20
	}
	if cfg.Attachments.MaxFiles == 0 {
		cfg.Attachments.MaxFiles = 5
	}
	if len(cfg.Attachments.Extensions) == 0 {
		cfg.Attachments.Extensions = []string{".jpg", ".jpeg", ".png", ".webp"}
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "notifications.bills"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" || c.Database.Database == "" {
			return fmt.Errorf("config: database host and name are required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	for _, role := range c.Approval.DefaultOrder {
		if role == c.Approval.TerminalRole {
			return fmt.Errorf("config: default order must not contain the terminal role %q", role)
		}
	}
	if c.Server.Port == c.Server.GRPCPort {
		return fmt.Errorf("config: http and grpc ports must differ")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
