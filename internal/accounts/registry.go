// Package accounts enumerates Feishu app accounts and resolves them into
// merged, environment-aware snapshots.
package accounts

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// DefaultAccountID names the implicit base account.
const DefaultAccountID = "default"

var ErrAccountNotFound = errors.New("feishu account not found")

// Environment variable names, primary vendor first, then the alias vendor.
var (
	envAppID             = [2]string{"FEISHU_APP_ID", "LARK_APP_ID"}
	envAppSecret         = [2]string{"FEISHU_APP_SECRET", "LARK_APP_SECRET"}
	envEncryptKey        = [2]string{"FEISHU_ENCRYPT_KEY", "LARK_ENCRYPT_KEY"}
	envVerificationToken = [2]string{"FEISHU_VERIFICATION_TOKEN", "LARK_VERIFICATION_TOKEN"}
)

// Env looks up an environment variable.
type Env func(key string) (string, bool)

// OSEnv reads the process environment.
func OSEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapEnv returns an Env backed by a fixed map.
func MapEnv(values map[string]string) Env {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// NoEnv never finds a variable.
func NoEnv(string) (string, bool) {
	return "", false
}

// ListAccountIDs enumerates account ids: the default id when the base carries
// any credential, then every named account in sorted order. Accounts decode
// into a map, which drops declaration order, so sorting keeps the listing
// stable. A section with no credentials anywhere still lists the default id
// unless it is explicitly disabled.
func ListAccountIDs(cfg *FeishuConfig) []string {
	if cfg == nil {
		return []string{}
	}
	ids := make([]string, 0, len(cfg.Accounts)+1)
	seen := map[string]struct{}{}
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if strings.TrimSpace(cfg.AppID) != "" || strings.TrimSpace(cfg.AppSecret) != "" {
		add(DefaultAccountID)
	}
	named := make([]string, 0, len(cfg.Accounts))
	for id := range cfg.Accounts {
		if id = strings.TrimSpace(id); id != "" {
			named = append(named, id)
		}
	}
	sort.Strings(named)
	for _, id := range named {
		add(id)
	}
	if len(ids) == 0 && !isFalse(cfg.Enabled) {
		add(DefaultAccountID)
	}
	return ids
}

// ResolveDefaultAccountID returns the first listed account id, or DefaultAccountID.
func ResolveDefaultAccountID(cfg *FeishuConfig) string {
	ids := ListAccountIDs(cfg)
	if len(ids) == 0 {
		return DefaultAccountID
	}
	return ids[0]
}

// ResolveAccount merges the named account over the base config, applies the
// environment fallback and reports whether the result is usable. It never
// fails: missing credentials yield Configured=false. A blank accountID selects
// the default account. env may be nil.
func ResolveAccount(cfg *FeishuConfig, accountID string, env Env) ResolvedAccount {
	if env == nil {
		env = NoEnv
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		accountID = ResolveDefaultAccountID(cfg)
	}
	var base AccountConfig
	var named *AccountConfig
	if cfg != nil {
		base = cfg.AccountConfig
		if accountID != DefaultAccountID {
			if entry, ok := lookupNamed(cfg.Accounts, accountID); ok {
				named = &entry
			}
		}
	}
	merged := MergeAccountConfig(base, named)

	appID := firstNonEmpty(merged.AppID, lookupEnv(env, envAppID))
	appSecret := firstNonEmpty(merged.AppSecret, lookupEnv(env, envAppSecret))
	encryptKey := firstNonEmpty(merged.EncryptKey, lookupEnv(env, envEncryptKey))
	verificationToken := firstNonEmpty(merged.VerificationToken, lookupEnv(env, envVerificationToken))
	configured := appID != "" && appSecret != ""

	return ResolvedAccount{
		AccountID:         accountID,
		Name:              strings.TrimSpace(merged.Name),
		Enabled:           configured && !isFalse(merged.Enabled),
		Configured:        configured,
		AppID:             appID,
		AppSecret:         appSecret,
		Domain:            NormalizeDomain(merged.Domain),
		EncryptKey:        encryptKey,
		VerificationToken: verificationToken,
		ConnectionMode:    NormalizeConnectionMode(merged.ConnectionMode),
		Config:            merged,
	}
}

// LookupAccount resolves accountID like ResolveAccount but fails with
// ErrAccountNotFound when the id is not listed by ListAccountIDs. A blank id
// selects the default account.
func LookupAccount(cfg *FeishuConfig, accountID string, env Env) (ResolvedAccount, error) {
	id := strings.TrimSpace(accountID)
	if id == "" {
		id = ResolveDefaultAccountID(cfg)
	}
	for _, known := range ListAccountIDs(cfg) {
		if known == id {
			return ResolveAccount(cfg, id, env), nil
		}
	}
	return ResolvedAccount{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

// ResolveAll resolves every listed account.
func ResolveAll(cfg *FeishuConfig, env Env) []ResolvedAccount {
	ids := ListAccountIDs(cfg)
	items := make([]ResolvedAccount, 0, len(ids))
	for _, id := range ids {
		items = append(items, ResolveAccount(cfg, id, env))
	}
	return items
}

// MergeAccountConfig overlays the fields named sets onto base. Fields named
// leaves unset fall through to base. Nested values are replaced, not merged.
func MergeAccountConfig(base AccountConfig, named *AccountConfig) AccountConfig {
	merged := base
	if named == nil {
		return merged
	}
	if named.Enabled != nil {
		merged.Enabled = named.Enabled
	}
	merged.Name = overlay(merged.Name, named.Name)
	merged.AppID = overlay(merged.AppID, named.AppID)
	merged.AppSecret = overlay(merged.AppSecret, named.AppSecret)
	merged.Domain = overlay(merged.Domain, named.Domain)
	merged.EncryptKey = overlay(merged.EncryptKey, named.EncryptKey)
	merged.VerificationToken = overlay(merged.VerificationToken, named.VerificationToken)
	merged.ConnectionMode = overlay(merged.ConnectionMode, named.ConnectionMode)
	merged.GroupPolicy = overlay(merged.GroupPolicy, named.GroupPolicy)
	if named.DM != nil {
		merged.DM = named.DM
	}
	if named.Groups != nil {
		merged.Groups = named.Groups
	}
	if named.GroupAllowFrom != nil {
		merged.GroupAllowFrom = named.GroupAllowFrom
	}
	return merged
}

// NormalizeDomain maps region aliases onto DomainFeishu or DomainLark. An
// explicit https URL is kept as a custom open-platform base URL.
func NormalizeDomain(raw string) string {
	value := strings.TrimSpace(raw)
	switch strings.ToLower(value) {
	case "", DomainFeishu, "cn", "china":
		return DomainFeishu
	case DomainLark, "global", "intl", "international":
		return DomainLark
	}
	if strings.HasPrefix(strings.ToLower(value), "https://") {
		return strings.TrimRight(value, "/")
	}
	return DomainFeishu
}

// NormalizeConnectionMode defaults to websocket.
func NormalizeConnectionMode(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), ConnectionModeWebhook) {
		return ConnectionModeWebhook
	}
	return ConnectionModeWebsocket
}

// MissingCredentials describes why the account is not configured, or "".
func (a ResolvedAccount) MissingCredentials() string {
	switch {
	case a.AppID == "" && a.AppSecret == "":
		return "appId and appSecret are not set"
	case a.AppID == "":
		return "appId is not set"
	case a.AppSecret == "":
		return "appSecret is not set"
	default:
		return ""
	}
}

// DisplayName returns the configured name, or the account id.
func (a ResolvedAccount) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.AccountID
}

// Fingerprint identifies the credential set; it changes whenever any field
// that affects the vendor client changes.
func (a ResolvedAccount) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{a.AppID, a.AppSecret, a.Domain, a.EncryptKey, a.VerificationToken} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func lookupNamed(items map[string]AccountConfig, id string) (AccountConfig, bool) {
	if entry, ok := items[id]; ok {
		return entry, true
	}
	for key, entry := range items {
		if strings.TrimSpace(key) == id {
			return entry, true
		}
	}
	return AccountConfig{}, false
}

func lookupEnv(env Env, names [2]string) string {
	for _, name := range names {
		if value, ok := env(name); ok {
			if value = strings.TrimSpace(value); value != "" {
				return value
			}
		}
	}
	return ""
}

func overlay(base, value string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func isFalse(v *bool) bool {
	return v != nil && !*v
}
