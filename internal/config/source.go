package config

import (
	"context"
	"log/slog"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

// Source resolves Feishu accounts from the config file, re-reading it on
// every call so edits take effect without a restart.
type Source struct {
	path   string
	env    accounts.Env
	logger *slog.Logger
}

// NewSource reads accounts from path. A nil env uses the process environment.
func NewSource(log *slog.Logger, path string, env accounts.Env) *Source {
	if log == nil {
		log = slog.Default()
	}
	if env == nil {
		env = accounts.OSEnv
	}
	return &Source{path: path, env: env, logger: log.With(slog.String("component", "config_source"))}
}

func (s *Source) feishu() (*accounts.FeishuConfig, error) {
	cfg, err := Load(s.path)
	if err != nil {
		s.logger.Error("reload config failed", slog.String("path", s.path), slog.Any("error", err))
		return nil, err
	}
	return &cfg.Channels.Feishu, nil
}

// Accounts resolves every listed account, default first.
func (s *Source) Accounts(_ context.Context) ([]accounts.ResolvedAccount, error) {
	cfg, err := s.feishu()
	if err != nil {
		return nil, err
	}
	return accounts.ResolveAll(cfg, s.env), nil
}

// Account resolves one account; a blank id selects the default account.
func (s *Source) Account(_ context.Context, accountID string) (accounts.ResolvedAccount, error) {
	cfg, err := s.feishu()
	if err != nil {
		return accounts.ResolvedAccount{}, err
	}
	return accounts.LookupAccount(cfg, accountID, s.env)
}
