// Package config loads and exposes application configuration (TOML, JSON or YAML).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

// Default configuration values used when a field is missing.
const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultJWTExpiresIn   = "24h"
	DefaultGatewayHost    = "127.0.0.1"
	DefaultGatewayPort    = 8081
	DefaultGatewayTimeout = 120
	DefaultPairingDBPath  = "data/pairing.db"
	DefaultPairingCodeTTL = "1h"
	DefaultTextChunkLimit = 4000
)

// Config is the root application configuration.
type Config struct {
	Log          LogConfig          `toml:"log" json:"log" yaml:"log"`
	Server       ServerConfig       `toml:"server" json:"server" yaml:"server"`
	Auth         AuthConfig         `toml:"auth" json:"auth" yaml:"auth"`
	AgentGateway AgentGatewayConfig `toml:"agent_gateway" json:"agent_gateway" yaml:"agent_gateway"`
	Messages     MessagesConfig     `toml:"messages" json:"messages" yaml:"messages"`
	Pairing      PairingConfig      `toml:"pairing" json:"pairing" yaml:"pairing"`
	Channels     ChannelsConfig     `toml:"channels" json:"channels" yaml:"channels"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr" yaml:"addr"`
}

// AuthConfig holds the admin API JWT secret and token expiry (e.g. 24h).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret" json:"jwt_secret" yaml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in" json:"jwt_expires_in" yaml:"jwt_expires_in"`
}

// AgentGatewayConfig locates the reply pipeline.
type AgentGatewayConfig struct {
	Host           string `toml:"host" json:"host" yaml:"host"`
	Port           int    `toml:"port" json:"port" yaml:"port"`
	Token          string `toml:"token" json:"token" yaml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
}

// MessagesConfig holds host-level message handling settings.
type MessagesConfig struct {
	MentionPatterns []string `toml:"mention_patterns" json:"mention_patterns" yaml:"mention_patterns"`
	TextChunkLimit  int      `toml:"text_chunk_limit" json:"text_chunk_limit" yaml:"text_chunk_limit"`
}

// PairingConfig locates the pairing store. An empty DBPath keeps pairing
// state in memory.
type PairingConfig struct {
	DBPath  string `toml:"db_path" json:"db_path" yaml:"db_path"`
	CodeTTL string `toml:"code_ttl" json:"code_ttl" yaml:"code_ttl"`
}

// ChannelsConfig holds per-channel sections.
type ChannelsConfig struct {
	// RefreshInterval is how often account configuration is reconciled (e.g. 30s).
	RefreshInterval string                `toml:"refresh_interval" json:"refresh_interval" yaml:"refresh_interval"`
	Feishu          accounts.FeishuConfig `toml:"feishu" json:"feishu" yaml:"feishu"`
}

// Refresh parses RefreshInterval. Zero means the manager default.
func (c ChannelsConfig) Refresh() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.RefreshInterval))
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// BaseURL returns the agent gateway base URL (e.g. http://127.0.0.1:8081) from host and port.
func (c AgentGatewayConfig) BaseURL() string {
	host := c.Host
	if host == "" {
		host = DefaultGatewayHost
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/")
	}
	port := c.Port
	if port == 0 {
		port = DefaultGatewayPort
	}
	return "http://" + host + ":" + strconv.Itoa(port)
}

// Timeout returns the gateway request timeout.
func (c AgentGatewayConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultGatewayTimeout * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TTL parses CodeTTL, falling back to the default on empty or invalid input.
func (c PairingConfig) TTL() time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(c.CodeTTL)); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultPairingCodeTTL)
	return d
}

// JWTTTL parses JWTExpiresIn, falling back to the default.
func (c AuthConfig) JWTTTL() time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(c.JWTExpiresIn)); err == nil && d > 0 {
		return d
	}
	d, _ := time.ParseDuration(DefaultJWTExpiresIn)
	return d
}

func defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		AgentGateway: AgentGatewayConfig{
			Host:           DefaultGatewayHost,
			Port:           DefaultGatewayPort,
			TimeoutSeconds: DefaultGatewayTimeout,
		},
		Messages: MessagesConfig{
			TextChunkLimit: DefaultTextChunkLimit,
		},
		Pairing: PairingConfig{
			DBPath:  DefaultPairingDBPath,
			CodeTTL: DefaultPairingCodeTTL,
		},
	}
}

// Load reads the config file at path and applies default values for missing
// fields. A missing file yields the defaults. The format follows the file
// extension: .json, .yaml/.yml, otherwise TOML.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := decode(path, data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		return dec.Decode(cfg)
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		_, err := toml.Decode(string(data), cfg)
		return err
	}
}
