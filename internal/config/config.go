// Package config handles thane-mcp configuration loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/thane-mcp/internal/paths"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./thane-mcp.yaml, ~/.config/thane-mcp/config.yaml, /etc/thane-mcp/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"thane-mcp.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "thane-mcp", "config.yaml"))
	}

	paths = append(paths, "/etc/thane-mcp/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all thane-mcp configuration.
type Config struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	DataDir   string        `yaml:"data_dir"`
	Client    ClientConfig  `yaml:"client"`
	Timeouts  TimeoutConfig `yaml:"timeouts"`
	MCP       MCPConfig     `yaml:"mcp"`
	MQTT      MQTTConfig    `yaml:"mqtt"`
	CallLog   CallLogConfig `yaml:"call_log"`
}

// ClientConfig is the identity sent to servers in the handshake.
// Empty fields fall back to the program name and build version.
type ClientConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// TimeoutConfig bounds protocol operations.
type TimeoutConfig struct {
	// Initialize bounds connect plus handshake plus first tools/list.
	Initialize time.Duration `yaml:"initialize"`
	// Request is the default per-request timeout.
	Request time.Duration `yaml:"request"`
	// Stop is how long a server gets to exit after stdin closes.
	Stop time.Duration `yaml:"stop"`
}

// MCPConfig lists the MCP servers to connect to.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes one stdio MCP server.
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Dir     string            `yaml:"dir"`

	// IncludeTools, when non-empty, limits which tools are bridged.
	IncludeTools []string `yaml:"include_tools"`
	// ExcludeTools names tools that are never bridged.
	ExcludeTools []string `yaml:"exclude_tools"`

	// CallTimeout overrides timeouts.request for this server.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// EnvList returns Env as sorted KEY=VALUE pairs.
func (s MCPServerConfig) EnvList() []string {
	if len(s.Env) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Server returns the server config with the given name.
func (m MCPConfig) Server(name string) (MCPServerConfig, bool) {
	for _, s := range m.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return MCPServerConfig{}, false
}

// MQTTConfig configures forwarding of MCP events to an MQTT broker.
// Forwarding is disabled when Broker is empty.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Configured reports whether MQTT forwarding is enabled.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// CallLogConfig configures the SQLite record of tool invocations.
type CallLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file, expanding ${VAR}
// references from the environment, and fills in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := defaults()
	cfg.applyDefaults()
	return cfg
}

// defaults holds the fixed defaults. Paths derived from data_dir are
// filled in by applyDefaults once the file has been read.
func defaults() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: LogFormatText,
		Timeouts: TimeoutConfig{
			Initialize: 30 * time.Second,
			Request:    60 * time.Second,
			Stop:       5 * time.Second,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "thane-mcp",
		},
	}
}

// applyDefaults fills derived defaults and resolves path references.
// call_log.path and each server's dir may use ~ or the "data:" prefix,
// which stands for data_dir.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	c.DataDir = paths.ExpandHome(c.DataDir)
	r := paths.New(map[string]string{"data": c.DataDir})

	if c.CallLog.Path == "" {
		c.CallLog.Path = "data:calls.db"
	}
	c.CallLog.Path = r.Resolve(c.CallLog.Path)
	for i := range c.MCP.Servers {
		c.MCP.Servers[i].Dir = r.Resolve(c.MCP.Servers[i].Dir)
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "thane-mcp"
	}
}

// Validate checks the configuration for errors that would only show
// up later at connect time.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLogFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool, len(c.MCP.Servers))
	for i, s := range c.MCP.Servers {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: name is required", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true

		if s.Command == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d] (%s): command is required", i, s.Name))
		}
		if len(s.IncludeTools) > 0 && len(s.ExcludeTools) > 0 {
			errs = append(errs, fmt.Errorf("mcp.servers[%d] (%s): include_tools and exclude_tools are mutually exclusive", i, s.Name))
		}
		if s.CallTimeout < 0 {
			errs = append(errs, fmt.Errorf("mcp.servers[%d] (%s): call_timeout must not be negative", i, s.Name))
		}
	}

	if c.MQTT.Configured() {
		u, err := url.Parse(c.MQTT.Broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("mqtt.broker: %w", err))
		} else {
			switch u.Scheme {
			case "mqtt", "tcp", "mqtts", "ssl", "ws", "wss":
			default:
				errs = append(errs, fmt.Errorf("mqtt.broker: unsupported scheme %q", u.Scheme))
			}
		}
	}

	return errors.Join(errs...)
}
