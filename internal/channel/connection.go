package channel

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

type connectionEntry struct {
	account    accounts.ResolvedAccount
	connection Connection
	revision   string
	startedAt  time.Time
}

// connectionRevision changes whenever a restart is required for the account.
func connectionRevision(account accounts.ResolvedAccount) string {
	return account.Fingerprint() + "/" + account.ConnectionMode
}

func (m *Manager) refresh(ctx context.Context) {
	// Serialize refresh calls to prevent concurrent reconcile from starting
	// duplicate adapter connections.
	if !m.refreshMu.TryLock() {
		return
	}
	defer m.refreshMu.Unlock()

	if m.source == nil {
		return
	}
	items, err := m.source.Accounts(ctx)
	if err != nil {
		m.logger.Error("list accounts failed", slog.Any("error", err))
		return
	}
	m.reconcile(ctx, items)
}

// Refresh reconciles connections against the current account configuration.
func (m *Manager) Refresh(ctx context.Context) {
	m.refresh(ctx)
}

func (m *Manager) reconcile(ctx context.Context, items []accounts.ResolvedAccount) {
	active := map[string]accounts.ResolvedAccount{}
	for _, account := range items {
		if account.AccountID == "" || !account.Enabled || !account.Configured {
			continue
		}
		active[account.AccountID] = account
		if err := m.ensureConnection(ctx, account); err != nil {
			m.logger.Error("adapter start failed", slog.String("account_id", account.AccountID), slog.Any("error", err))
			m.setLastError(account.AccountID, err)
			continue
		}
		m.setLastError(account.AccountID, nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.connections {
		if _, ok := active[id]; ok {
			continue
		}
		m.stopEntry(ctx, id, entry)
		delete(m.connections, id)
	}
}

func (m *Manager) ensureConnection(ctx context.Context, account accounts.ResolvedAccount) error {
	if m.receiver == nil {
		return nil
	}
	revision := connectionRevision(account)

	m.mu.Lock()
	entry := m.connections[account.AccountID]
	if entry != nil && entry.revision == revision {
		m.mu.Unlock()
		return nil
	}
	var oldConn Connection
	if entry != nil {
		oldConn = entry.connection
		delete(m.connections, account.AccountID)
	}
	m.mu.Unlock()

	if oldConn != nil {
		m.logger.Info("adapter restart", slog.String("account_id", account.AccountID))
		if err := oldConn.Stop(ctx); err != nil {
			if errors.Is(err, ErrStopNotSupported) {
				m.logger.Warn("adapter restart skipped", slog.String("account_id", account.AccountID))
				m.mu.Lock()
				if _, exists := m.connections[account.AccountID]; !exists {
					m.connections[account.AccountID] = entry
				}
				m.mu.Unlock()
				return nil
			}
			return err
		}
	}

	// Another goroutine may have connected while the old connection stopped.
	m.mu.Lock()
	if existing, ok := m.connections[account.AccountID]; ok && existing != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.logger.Info("adapter start",
		slog.String("account_id", account.AccountID),
		slog.String("mode", account.ConnectionMode),
		slog.String("domain", account.Domain),
	)
	var handler InboundHandler = m.HandleInbound
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		handler = m.middlewares[i](handler)
	}
	conn, err := m.receiver.Connect(ctx, account, handler)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if existing, ok := m.connections[account.AccountID]; ok && existing != nil {
		m.mu.Unlock()
		_ = conn.Stop(ctx)
		return nil
	}
	m.connections[account.AccountID] = &connectionEntry{
		account:    account,
		connection: conn,
		revision:   revision,
		startedAt:  m.now(),
	}
	m.mu.Unlock()
	return nil
}

// stopEntry must be called with m.mu held.
func (m *Manager) stopEntry(ctx context.Context, id string, entry *connectionEntry) {
	if entry == nil || entry.connection == nil || !entry.connection.Running() {
		return
	}
	m.logger.Info("adapter stop", slog.String("account_id", id))
	if err := entry.connection.Stop(ctx); err != nil && !errors.Is(err, ErrStopNotSupported) {
		m.logger.Warn("adapter stop failed", slog.String("account_id", id), slog.Any("error", err))
	}
}

func (m *Manager) stopAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.connections {
		m.stopEntry(ctx, id, entry)
		delete(m.connections, id)
	}
}

// Stop terminates the account's connection. The account stays stopped until
// its configuration changes.
func (m *Manager) Stop(ctx context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return errors.New("account id is required")
	}
	m.mu.Lock()
	entry := m.connections[accountID]
	m.mu.Unlock()
	if entry == nil || entry.connection == nil {
		return nil
	}
	return entry.connection.Stop(ctx)
}

// Shutdown stops every connection and the inbound workers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopAll(ctx)
	if m.inboundCancel != nil {
		m.inboundCancel()
	}
	return nil
}
