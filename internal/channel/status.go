package channel

import (
	"context"
	"sort"
	"time"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

// AccountStatus is the runtime view of one configured account.
type AccountStatus struct {
	AccountID      string     `json:"account_id"`
	Name           string     `json:"name,omitempty"`
	Enabled        bool       `json:"enabled"`
	Configured     bool       `json:"configured"`
	Running        bool       `json:"running"`
	ConnectionMode string     `json:"connection_mode"`
	Domain         string     `json:"domain"`
	Missing        string     `json:"missing,omitempty"`
	Error          string     `json:"error,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	LastInboundAt  *time.Time `json:"last_inbound_at,omitempty"`
}

// Statuses reports every account known to the source, in source order.
func (m *Manager) Statuses(ctx context.Context) ([]AccountStatus, error) {
	if m.source == nil {
		return []AccountStatus{}, nil
	}
	items, err := m.source.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]AccountStatus, 0, len(items))
	seen := map[string]struct{}{}
	for _, account := range items {
		seen[account.AccountID] = struct{}{}
		result = append(result, m.statusLocked(account))
	}
	// Connections whose account vanished from config but have not been reaped yet.
	orphans := make([]string, 0)
	for id := range m.connections {
		if _, ok := seen[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		result = append(result, m.statusLocked(m.connections[id].account))
	}
	return result, nil
}

func (m *Manager) statusLocked(account accounts.ResolvedAccount) AccountStatus {
	status := AccountStatus{
		AccountID:      account.AccountID,
		Name:           account.Name,
		Enabled:        account.Enabled,
		Configured:     account.Configured,
		ConnectionMode: account.ConnectionMode,
		Domain:         account.Domain,
		Missing:        account.MissingCredentials(),
		Error:          m.lastErrors[account.AccountID],
	}
	if entry := m.connections[account.AccountID]; entry != nil && entry.connection != nil {
		status.Running = entry.connection.Running()
		startedAt := entry.startedAt
		status.StartedAt = &startedAt
	}
	if ts, ok := m.lastInbound[account.AccountID]; ok {
		status.LastInboundAt = &ts
	}
	return status
}

func (m *Manager) setLastError(accountID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.lastErrors, accountID)
		return
	}
	m.lastErrors[accountID] = err.Error()
}

func (m *Manager) markInbound(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastInbound[accountID] = m.now()
}
