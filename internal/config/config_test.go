package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, "http://127.0.0.1:8081", cfg.AgentGateway.BaseURL())
	assert.Equal(t, time.Hour, cfg.Pairing.TTL())
	assert.Equal(t, 24*time.Hour, cfg.Auth.JWTTTL())
	assert.Equal(t, DefaultTextChunkLimit, cfg.Messages.TextChunkLimit)
}

const tomlConfig = `
[log]
level = "debug"

[server]
addr = ":9090"

[messages]
mention_patterns = ["(?i)helper"]

[pairing]
code_ttl = "30m"

[channels.feishu]
appId = "cli_base"
appSecret = "base-secret"
groupPolicy = "open"

[channels.feishu.dm]
policy = "allowlist"
allowFrom = ["ou_1", 12345]

[channels.feishu.accounts.intl]
domain = "lark"
appId = "cli_intl"
appSecret = "intl-secret"
connectionMode = "webhook"
`

func TestLoadTOML(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeFile(t, "config.toml", tomlConfig))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset fields keep defaults")
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"(?i)helper"}, cfg.Messages.MentionPatterns)
	assert.Equal(t, 30*time.Minute, cfg.Pairing.TTL())

	feishu := cfg.Channels.Feishu
	assert.Equal(t, "cli_base", feishu.AppID)
	require.NotNil(t, feishu.DM)
	assert.Equal(t, accounts.StringList{"ou_1", "12345"}, feishu.DM.AllowFrom)
	require.Contains(t, feishu.Accounts, "intl")
	assert.Equal(t, "webhook", feishu.Accounts["intl"].ConnectionMode)
}

func TestLoadJSONAndYAML(t *testing.T) {
	t.Parallel()

	jsonPath := writeFile(t, "config.json", `{"server":{"addr":":7070"},"channels":{"feishu":{"appId":"cli_json","appSecret":"s","dm":{"allowFrom":[1,"ou_2"]}}}}`)
	cfg, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "cli_json", cfg.Channels.Feishu.AppID)
	assert.Equal(t, accounts.StringList{"1", "ou_2"}, cfg.Channels.Feishu.DM.AllowFrom)

	yamlPath := writeFile(t, "config.yaml", "server:\n  addr: \":6060\"\nchannels:\n  feishu:\n    appId: cli_yaml\n    appSecret: s\n    accounts:\n      ops:\n        name: Ops\n")
	cfg, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.Server.Addr)
	assert.Equal(t, "cli_yaml", cfg.Channels.Feishu.AppID)
	assert.Equal(t, "Ops", cfg.Channels.Feishu.Accounts["ops"].Name)
}

func TestLoadInvalidFile(t *testing.T) {
	t.Parallel()

	_, err := Load(writeFile(t, "config.toml", "[server\naddr ="))
	require.Error(t, err)
}

func TestAgentGatewayBaseURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://agent.internal", AgentGatewayConfig{Host: "https://agent.internal/"}.BaseURL())
	assert.Equal(t, "http://10.0.0.2:9000", AgentGatewayConfig{Host: "10.0.0.2", Port: 9000}.BaseURL())
	assert.Equal(t, 5*time.Second, AgentGatewayConfig{TimeoutSeconds: 5}.Timeout())
}

func TestDurations(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Hour, PairingConfig{CodeTTL: "bogus"}.TTL())
	assert.Equal(t, 10*time.Minute, PairingConfig{CodeTTL: "10m"}.TTL())
	assert.Equal(t, 24*time.Hour, AuthConfig{}.JWTTTL())
	assert.Equal(t, 15*time.Second, ChannelsConfig{RefreshInterval: "15s"}.Refresh())
	assert.Zero(t, ChannelsConfig{}.Refresh())
}

func TestSourceReReadsFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.toml", tomlConfig)
	src := NewSource(nil, path, accounts.NoEnv)
	ctx := context.Background()

	all, err := src.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, accounts.DefaultAccountID, all[0].AccountID)
	assert.Equal(t, "intl", all[1].AccountID)
	assert.Equal(t, accounts.DomainLark, all[1].Domain)

	def, err := src.Account(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "cli_base", def.AppID)

	_, err = src.Account(ctx, "nope")
	assert.True(t, errors.Is(err, accounts.ErrAccountNotFound))

	require.NoError(t, os.WriteFile(path, []byte(tomlConfig+"\n[channels.feishu.accounts.ops]\nappId = \"cli_ops\"\nappSecret = \"x\"\n"), 0o600))
	ops, err := src.Account(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, "cli_ops", ops.AppID)
}

func TestSourceEnvFallback(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.toml", "[channels.feishu]\nenabled = true\n")
	src := NewSource(nil, path, accounts.MapEnv(map[string]string{
		"FEISHU_APP_ID":     "cli_env",
		"FEISHU_APP_SECRET": "env-secret",
	}))
	account, err := src.Account(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "cli_env", account.AppID)
	assert.True(t, account.Configured)
}
