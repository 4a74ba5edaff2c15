package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"permbridge/permission"
)

// Platform kinds
const (
	PlatformMemory  = "memory"
	PlatformNative  = "native"
	PlatformConsole = "console"
)

type BrokerConfig struct {
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds" validate:"gte=1,lte=3600"`
	ConflictPolicy        string `toml:"conflict_policy" validate:"oneof=reject queue"`
	RequestCode           int    `toml:"request_code" validate:"gte=1"`
}

type PlatformConfig struct {
	Kind          string   `toml:"kind" validate:"oneof=memory native console"`
	Version       string   `toml:"version"`
	PackageName   string   `toml:"package_name"`
	HelperCommand string   `toml:"helper_command" validate:"required_if=Kind native"`
	HelperArgs    []string `toml:"helper_args,omitempty"`
	Granted       []string `toml:"granted,omitempty"`
	AutoDecision  string   `toml:"auto_decision" validate:"oneof=grant deny cancel none"`
}

type RegistryConfig struct {
	Extra map[string]string `toml:"extra" validate:"dive,keys,required,endkeys,required"`
}

type MCPConfig struct {
	Bind    string `toml:"bind" validate:"required,hostname_port"`
	BaseURL string `toml:"base_url" validate:"omitempty,url"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type Config struct {
	Broker   BrokerConfig   `toml:"broker"`
	Platform PlatformConfig `toml:"platform"`
	Registry RegistryConfig `toml:"registry"`
	MCP      MCPConfig      `toml:"mcp"`
	Log      LogConfig      `toml:"log"`
}

func Default() Config {
	return Config{
		Broker: BrokerConfig{
			RequestTimeoutSeconds: int(permission.DefaultRequestTimeout / time.Second),
			ConflictPolicy:        "reject",
			RequestCode:           permission.DefaultRequestCode,
		},
		Platform: PlatformConfig{
			Kind:         PlatformMemory,
			Version:      "Simulated 1.0",
			AutoDecision: "none",
		},
		Registry: RegistryConfig{
			Extra: map[string]string{},
		},
		MCP: MCPConfig{
			Bind: "127.0.0.1:8765",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath is the config file used when none is given
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "permbridge.toml"
	}
	return filepath.Join(dir, "permbridge", "config.toml")
}

// LoadOrCreate reads path, writing the defaults there first if it does not exist
func LoadOrCreate(path string) (Config, error) {
	config := Default()

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return config, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return config, err
		}
		configData, err := toml.Marshal(config)
		if err != nil {
			return config, err
		}
		if err := os.WriteFile(path, configData, 0o644); err != nil {
			return config, err
		}
		return config, nil
	}

	configData, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}
	return Parse(configData)
}

// Parse decodes TOML over the defaults and validates the result
func Parse(data []byte) (Config, error) {
	config := Default()
	if err := toml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parse config: %w", err)
	}

	config.Platform.Kind = strings.ToLower(strings.TrimSpace(config.Platform.Kind))
	config.Platform.HelperCommand = expandPath(strings.TrimSpace(config.Platform.HelperCommand))
	config.MCP.Bind = strings.TrimSpace(config.MCP.Bind)
	config.Log.Level = strings.ToLower(config.Log.Level)

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// RequestTimeout returns the broker request timeout
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Broker.RequestTimeoutSeconds) * time.Second
}

// Conflict returns the parsed conflict policy
func (c Config) Conflict() permission.ConflictPolicy {
	policy, _ := permission.ParseConflictPolicy(c.Broker.ConflictPolicy)
	return policy
}

// PermissionRegistry returns the default registry merged with [registry.extra]
func (c Config) PermissionRegistry() *permission.Registry {
	registry := permission.DefaultRegistry()
	if len(c.Registry.Extra) == 0 {
		return registry
	}
	extra := make(map[permission.Name]permission.PlatformID, len(c.Registry.Extra))
	for name, id := range c.Registry.Extra {
		extra[permission.Name(name)] = permission.PlatformID(id)
	}
	return registry.With(extra)
}

// GrantedIDs resolves [platform] granted entries, accepting names or raw ids
func (c Config) GrantedIDs() []permission.PlatformID {
	registry := c.PermissionRegistry()
	ids := make([]permission.PlatformID, 0, len(c.Platform.Granted))
	for _, entry := range c.Platform.Granted {
		if id := registry.Resolve(permission.Name(entry)); id != permission.Unknown {
			ids = append(ids, id)
			continue
		}
		ids = append(ids, permission.PlatformID(entry))
	}
	return ids
}

// Logger builds the slog handler described by [log], writing to stderr
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func expandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}
