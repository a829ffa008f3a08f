package accounts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Domain values select the regional deployment.
const (
	DomainFeishu = "feishu"
	DomainLark   = "lark"
)

// Connection modes control how inbound events arrive.
const (
	ConnectionModeWebsocket = "websocket"
	ConnectionModeWebhook   = "webhook"
)

// DM policies.
const (
	DMPolicyPairing   = "pairing"
	DMPolicyAllowlist = "allowlist"
	DMPolicyOpen      = "open"
	DMPolicyDisabled  = "disabled"
)

// Group policies.
const (
	GroupPolicyOpen      = "open"
	GroupPolicyAllowlist = "allowlist"
	GroupPolicyDisabled  = "disabled"
)

// DMConfig is the direct-message policy of an account.
type DMConfig struct {
	Enabled   *bool      `toml:"enabled" json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Policy    string     `toml:"policy" json:"policy,omitempty" yaml:"policy,omitempty"`
	AllowFrom StringList `toml:"allowFrom" json:"allowFrom,omitempty" yaml:"allowFrom,omitempty"`
}

// GroupConfig overrides membership for a single group chat.
type GroupConfig struct {
	Allow *bool      `toml:"allow" json:"allow,omitempty" yaml:"allow,omitempty"`
	Users StringList `toml:"users" json:"users,omitempty" yaml:"users,omitempty"`
}

// AccountConfig is a partially specified credential and policy bundle.
// Empty strings and nil pointers mean "not set".
type AccountConfig struct {
	Enabled           *bool                  `toml:"enabled" json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Name              string                 `toml:"name" json:"name,omitempty" yaml:"name,omitempty"`
	AppID             string                 `toml:"appId" json:"appId,omitempty" yaml:"appId,omitempty"`
	AppSecret         string                 `toml:"appSecret" json:"appSecret,omitempty" yaml:"appSecret,omitempty"`
	Domain            string                 `toml:"domain" json:"domain,omitempty" yaml:"domain,omitempty"`
	EncryptKey        string                 `toml:"encryptKey" json:"encryptKey,omitempty" yaml:"encryptKey,omitempty"`
	VerificationToken string                 `toml:"verificationToken" json:"verificationToken,omitempty" yaml:"verificationToken,omitempty"`
	ConnectionMode    string                 `toml:"connectionMode" json:"connectionMode,omitempty" yaml:"connectionMode,omitempty"`
	DM                *DMConfig              `toml:"dm" json:"dm,omitempty" yaml:"dm,omitempty"`
	GroupPolicy       string                 `toml:"groupPolicy" json:"groupPolicy,omitempty" yaml:"groupPolicy,omitempty"`
	Groups            map[string]GroupConfig `toml:"groups" json:"groups,omitempty" yaml:"groups,omitempty"`
	GroupAllowFrom    StringList             `toml:"groupAllowFrom" json:"groupAllowFrom,omitempty" yaml:"groupAllowFrom,omitempty"`
}

// FeishuConfig is the channels.feishu section: an implicit default account
// plus named accounts.
type FeishuConfig struct {
	AccountConfig `yaml:",inline"`
	Accounts      map[string]AccountConfig `toml:"accounts" json:"accounts,omitempty" yaml:"accounts,omitempty"`
}

// ResolvedAccount is the merged, env-aware view of one account. It is a
// snapshot: recompute it from live configuration for every operation.
type ResolvedAccount struct {
	AccountID         string
	Name              string
	Enabled           bool
	Configured        bool
	AppID             string
	AppSecret         string
	Domain            string
	EncryptKey        string
	VerificationToken string
	ConnectionMode    string
	Config            AccountConfig
}

// StringList is a list of identifiers that tolerates non-string scalar entries
// (numbers, booleans) by coercing them to strings while decoding.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = coerceList(raw)
	return nil
}

// UnmarshalTOML implements toml.Unmarshaler.
func (l *StringList) UnmarshalTOML(data any) error {
	*l = coerceList(data)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*l = coerceList(raw)
	return nil
}

func coerceList(raw any) StringList {
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		out := make(StringList, 0, len(v))
		for _, item := range v {
			if s, ok := coerceScalar(item); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append(StringList(nil), v...)
	default:
		if s, ok := coerceScalar(v); ok {
			return StringList{s}
		}
		return StringList{}
	}
}

func coerceScalar(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	case map[string]any, []any:
		return "", false
	default:
		return strings.TrimSpace(fmt.Sprint(v)), true
	}
}
