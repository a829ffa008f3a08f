package accounts

import (
	"encoding/json"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func boolPtr(v bool) *bool { return &v }

func TestListAccountIDs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  *FeishuConfig
		want []string
	}{
		{name: "no section", cfg: nil, want: []string{}},
		{name: "disabled without credentials", cfg: &FeishuConfig{AccountConfig: AccountConfig{Enabled: boolPtr(false)}}, want: []string{}},
		{name: "enabled without credentials", cfg: &FeishuConfig{AccountConfig: AccountConfig{Enabled: boolPtr(true)}}, want: []string{DefaultAccountID}},
		{name: "empty section", cfg: &FeishuConfig{}, want: []string{DefaultAccountID}},
		{name: "partial base credentials", cfg: &FeishuConfig{AccountConfig: AccountConfig{AppSecret: "s"}}, want: []string{DefaultAccountID}},
		{
			name: "named accounts sorted after default",
			cfg: &FeishuConfig{
				AccountConfig: AccountConfig{AppID: "cli_base"},
				Accounts:      map[string]AccountConfig{"zeta": {}, "alpha": {AppID: "cli_a"}},
			},
			want: []string{DefaultAccountID, "alpha", "zeta"},
		},
		{
			name: "named only",
			cfg:  &FeishuConfig{Accounts: map[string]AccountConfig{"ops": {}}},
			want: []string{"ops"},
		},
		{
			name: "disabled base keeps named accounts",
			cfg: &FeishuConfig{
				AccountConfig: AccountConfig{Enabled: boolPtr(false)},
				Accounts:      map[string]AccountConfig{"ops": {}},
			},
			want: []string{"ops"},
		},
		{
			name: "named default is not duplicated",
			cfg: &FeishuConfig{
				AccountConfig: AccountConfig{AppID: "cli_base"},
				Accounts:      map[string]AccountConfig{DefaultAccountID: {}},
			},
			want: []string{DefaultAccountID},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ListAccountIDs(tc.cfg))
		})
	}
}

func TestResolveDefaultAccountID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultAccountID, ResolveDefaultAccountID(nil))
	assert.Equal(t, "alpha", ResolveDefaultAccountID(&FeishuConfig{
		Accounts: map[string]AccountConfig{"beta": {}, "alpha": {}},
	}))
}

func TestResolveAccountMergePrecedence(t *testing.T) {
	t.Parallel()

	cfg := &FeishuConfig{
		AccountConfig: AccountConfig{
			AppID:       "cli_base",
			AppSecret:   "base-secret",
			Domain:      "lark",
			GroupPolicy: GroupPolicyOpen,
		},
		Accounts: map[string]AccountConfig{
			"ops": {AppID: "cli_ops", Name: "Ops bot"},
		},
	}

	got := ResolveAccount(cfg, "ops", nil)
	assert.Equal(t, "ops", got.AccountID)
	assert.Equal(t, "cli_ops", got.AppID)
	assert.Equal(t, "base-secret", got.AppSecret)
	assert.Equal(t, DomainLark, got.Domain)
	assert.Equal(t, GroupPolicyOpen, got.Config.GroupPolicy)
	assert.Equal(t, "Ops bot", got.DisplayName())
	assert.True(t, got.Configured)
	assert.True(t, got.Enabled)

	base := ResolveAccount(cfg, "", nil)
	assert.Equal(t, DefaultAccountID, base.AccountID)
	assert.Equal(t, "cli_base", base.AppID)
	assert.Equal(t, DefaultAccountID, base.DisplayName())
}

func TestResolveAccountUnknownIDUsesBase(t *testing.T) {
	t.Parallel()

	cfg := &FeishuConfig{AccountConfig: AccountConfig{AppID: "cli_base", AppSecret: "s"}}
	got := ResolveAccount(cfg, "missing", nil)
	assert.Equal(t, "missing", got.AccountID)
	assert.Equal(t, "cli_base", got.AppID)
}

func TestResolveAccountEnvFallback(t *testing.T) {
	t.Parallel()

	cfg := &FeishuConfig{AccountConfig: AccountConfig{AppSecret: "s"}}

	got := ResolveAccount(cfg, "", MapEnv(map[string]string{"FEISHU_APP_ID": "cli_env"}))
	assert.Equal(t, "cli_env", got.AppID)
	assert.True(t, got.Configured)
	assert.Empty(t, got.MissingCredentials())

	got = ResolveAccount(cfg, "", MapEnv(map[string]string{
		"FEISHU_APP_ID":             "  ",
		"LARK_APP_ID":               "cli_alias",
		"LARK_ENCRYPT_KEY":          "ek",
		"FEISHU_VERIFICATION_TOKEN": "vt",
		"LARK_VERIFICATION_TOKEN":   "ignored",
	}))
	assert.Equal(t, "cli_alias", got.AppID)
	assert.Equal(t, "ek", got.EncryptKey)
	assert.Equal(t, "vt", got.VerificationToken)

	withConfig := &FeishuConfig{AccountConfig: AccountConfig{AppID: "cli_cfg", AppSecret: "s"}}
	got = ResolveAccount(withConfig, "", MapEnv(map[string]string{"FEISHU_APP_ID": "cli_env"}))
	assert.Equal(t, "cli_cfg", got.AppID)
}

func TestResolveAccountNotConfigured(t *testing.T) {
	t.Parallel()

	got := ResolveAccount(&FeishuConfig{AccountConfig: AccountConfig{AppID: "cli_x"}}, "", nil)
	assert.False(t, got.Configured)
	assert.False(t, got.Enabled)
	assert.Equal(t, "appSecret is not set", got.MissingCredentials())

	got = ResolveAccount(nil, "", nil)
	assert.Equal(t, DefaultAccountID, got.AccountID)
	assert.Equal(t, "appId and appSecret are not set", got.MissingCredentials())
	assert.Equal(t, DomainFeishu, got.Domain)
	assert.Equal(t, ConnectionModeWebsocket, got.ConnectionMode)
}

func TestResolveAccountExplicitlyDisabled(t *testing.T) {
	t.Parallel()

	cfg := &FeishuConfig{
		AccountConfig: AccountConfig{AppID: "cli_x", AppSecret: "s"},
		Accounts:      map[string]AccountConfig{"off": {Enabled: boolPtr(false)}},
	}
	got := ResolveAccount(cfg, "off", nil)
	assert.True(t, got.Configured)
	assert.False(t, got.Enabled)
}

func TestMergeReplacesNestedValues(t *testing.T) {
	t.Parallel()

	base := AccountConfig{
		DM:     &DMConfig{Policy: DMPolicyOpen},
		Groups: map[string]GroupConfig{"oc_1": {Allow: boolPtr(true)}},
	}
	named := &AccountConfig{DM: &DMConfig{Policy: DMPolicyAllowlist}}

	merged := MergeAccountConfig(base, named)
	assert.Equal(t, DMPolicyAllowlist, merged.DM.Policy)
	assert.Contains(t, merged.Groups, "oc_1")
	assert.Equal(t, DMPolicyOpen, base.DM.Policy)
	assert.Equal(t, base, MergeAccountConfig(base, nil))
}

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DomainFeishu, NormalizeDomain(""))
	assert.Equal(t, DomainFeishu, NormalizeDomain("CN"))
	assert.Equal(t, DomainLark, NormalizeDomain(" Global "))
	assert.Equal(t, DomainLark, NormalizeDomain("lark"))
	assert.Equal(t, "https://open.example.com", NormalizeDomain("https://open.example.com/"))
	assert.Equal(t, DomainFeishu, NormalizeDomain("mars"))
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := ResolvedAccount{AccountID: "a", AppID: "cli_x", AppSecret: "s"}
	b := a
	b.AccountID = "b"
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.AppSecret = "rotated"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := ResolvedAccount{AppID: "cli_xs"}
	d := ResolvedAccount{AppID: "cli_x", AppSecret: "s"}
	assert.NotEqual(t, c.Fingerprint(), d.Fingerprint())
}

func TestStringListCoercesScalars(t *testing.T) {
	t.Parallel()

	var fromJSON struct {
		AllowFrom StringList `json:"allowFrom"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"allowFrom":["ou_1",42,true,null]}`), &fromJSON))
	assert.Equal(t, StringList{"ou_1", "42", "true"}, fromJSON.AllowFrom)

	var fromTOML struct {
		AllowFrom StringList `toml:"allowFrom"`
	}
	_, err := toml.Decode(`allowFrom = ["ou_1", 7]`, &fromTOML)
	require.NoError(t, err)
	assert.Equal(t, StringList{"ou_1", "7"}, fromTOML.AllowFrom)

	var fromYAML struct {
		AllowFrom StringList `yaml:"allowFrom"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("allowFrom: [ou_1, 12, 1.5]\n"), &fromYAML))
	assert.Equal(t, StringList{"ou_1", "12", "1.5"}, fromYAML.AllowFrom)

	var single struct {
		AllowFrom StringList `json:"allowFrom"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"allowFrom":"*"}`), &single))
	assert.Equal(t, StringList{"*"}, single.AllowFrom)
}

func TestFeishuConfigDecodesTOML(t *testing.T) {
	t.Parallel()

	var cfg FeishuConfig
	_, err := toml.Decode(`
appId = "cli_x"
appSecret = "s"
groupPolicy = "open"

[dm]
policy = "allowlist"
allowFrom = ["ou_1"]

[groups.oc_1]
allow = true
users = ["ou_2"]

[accounts.ops]
appId = "cli_ops"
domain = "lark"
`, &cfg)
	require.NoError(t, err)
	assert.Equal(t, "cli_x", cfg.AppID)
	require.NotNil(t, cfg.DM)
	assert.Equal(t, StringList{"ou_1"}, cfg.DM.AllowFrom)
	assert.Equal(t, StringList{"ou_2"}, cfg.Groups["oc_1"].Users)
	assert.Equal(t, "cli_ops", cfg.Accounts["ops"].AppID)
	assert.Equal(t, []string{DefaultAccountID, "ops"}, ListAccountIDs(&cfg))
}

func TestLookupAccount(t *testing.T) {
	t.Parallel()

	cfg := &FeishuConfig{
		AccountConfig: AccountConfig{AppID: "cli_base", AppSecret: "base"},
		Accounts: map[string]AccountConfig{
			"work": {AppID: "cli_work"},
		},
	}

	got, err := LookupAccount(cfg, "", NoEnv)
	require.NoError(t, err)
	assert.Equal(t, DefaultAccountID, got.AccountID)

	got, err = LookupAccount(cfg, " work ", NoEnv)
	require.NoError(t, err)
	assert.Equal(t, "cli_work", got.AppID)
	assert.Equal(t, "base", got.AppSecret)

	_, err = LookupAccount(cfg, "missing", NoEnv)
	require.ErrorIs(t, err, ErrAccountNotFound)
}
