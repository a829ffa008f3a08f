// Package channel runs per-account chat connections, queues inbound messages
// to a worker pool and chunks outbound replies.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

// AccountSource resolves accounts from live configuration on every call.
type AccountSource interface {
	Accounts(ctx context.Context) ([]accounts.ResolvedAccount, error)
	Account(ctx context.Context, accountID string) (accounts.ResolvedAccount, error)
}

// Middleware wraps the inbound handler handed to receivers.
type Middleware func(next InboundHandler) InboundHandler

const (
	defaultRefreshInterval = 30 * time.Second
	defaultInboundQueue    = 256
	defaultInboundWorkers  = 4
)

type Manager struct {
	source          AccountSource
	processor       InboundProcessor
	adapter         Adapter
	sender          Sender
	receiver        Receiver
	policy          OutboundPolicy
	refreshInterval time.Duration
	logger          *slog.Logger
	middlewares     []Middleware

	inboundQueue   chan inboundTask
	inboundWorkers int
	inboundOnce    sync.Once
	inboundCtx     context.Context
	inboundCancel  context.CancelFunc
	refreshMu      sync.Mutex
	mu             sync.Mutex
	connections    map[string]*connectionEntry
	lastErrors     map[string]string
	lastInbound    map[string]time.Time
	now            func() time.Time
}

// NewManager wires adapter (which may implement Sender and Receiver) to the
// account source and the inbound processor.
func NewManager(log *slog.Logger, source AccountSource, adapter Adapter, processor InboundProcessor) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		source:          source,
		processor:       processor,
		adapter:         adapter,
		policy:          NormalizeOutboundPolicy(OutboundPolicy{}),
		refreshInterval: defaultRefreshInterval,
		connections:     map[string]*connectionEntry{},
		lastErrors:      map[string]string{},
		lastInbound:     map[string]time.Time{},
		now:             time.Now,
		logger:          log.With(slog.String("component", "channel")),
		middlewares:     []Middleware{},
		inboundQueue:    make(chan inboundTask, defaultInboundQueue),
		inboundWorkers:  defaultInboundWorkers,
	}
	if sender, ok := adapter.(Sender); ok {
		m.sender = sender
	}
	if receiver, ok := adapter.(Receiver); ok {
		m.receiver = receiver
	}
	return m
}

// Use registers inbound middlewares; they apply to connections started afterwards.
func (m *Manager) Use(mw ...Middleware) {
	m.middlewares = append(m.middlewares, mw...)
}

// SetOutboundPolicy replaces the chunking policy used for replies and sends.
func (m *Manager) SetOutboundPolicy(policy OutboundPolicy) {
	m.policy = NormalizeOutboundPolicy(policy)
}

// SetRefreshInterval changes how often configuration is reconciled.
func (m *Manager) SetRefreshInterval(interval time.Duration) {
	if interval > 0 {
		m.refreshInterval = interval
	}
}

func (m *Manager) channelType() Type {
	if m.adapter == nil {
		return ""
	}
	return m.adapter.Type()
}

// Start launches the inbound workers and the reconcile loop. Connections stop
// when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("manager start", slog.String("channel", m.channelType().String()))
	m.startInboundWorkers(ctx)
	go func() {
		m.refresh(ctx)
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("manager stop")
				m.stopAll(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				m.refresh(ctx)
			}
		}
	}()
}

// Send delivers msg through the account, chunking text per the outbound policy.
// A blank accountID selects the default account.
func (m *Manager) Send(ctx context.Context, accountID string, msg OutboundMessage) error {
	if m.source == nil || m.sender == nil {
		return errors.New("channel manager not configured")
	}
	account, err := m.source.Account(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.Configured {
		return fmt.Errorf("account %s not configured: %s", account.AccountID, account.MissingCredentials())
	}
	if strings.TrimSpace(msg.Target) == "" {
		return errors.New("target is required")
	}
	m.logger.Info("send outbound", slog.String("account_id", account.AccountID))
	return m.sendChunks(ctx, account, msg)
}

func (m *Manager) sendChunks(ctx context.Context, account accounts.ResolvedAccount, msg OutboundMessage) error {
	if m.sender == nil {
		return fmt.Errorf("channel %s cannot send", m.channelType())
	}
	outbound, err := buildOutboundMessages(msg, m.policy)
	if err != nil {
		return err
	}
	for _, item := range outbound {
		if err := m.sender.Send(ctx, account, item); err != nil {
			m.logger.Error("send outbound failed", slog.String("account_id", account.AccountID), slog.Any("error", err))
			return err
		}
	}
	return nil
}

func (m *Manager) newReplySender(account accounts.ResolvedAccount) ReplySender {
	return &managerReplySender{manager: m, account: account}
}

type managerReplySender struct {
	manager *Manager
	account accounts.ResolvedAccount
}

func (s *managerReplySender) Send(ctx context.Context, msg OutboundMessage) error {
	if s.manager == nil {
		return errors.New("channel manager not configured")
	}
	if strings.TrimSpace(msg.Target) == "" {
		return errors.New("target is required")
	}
	return s.manager.sendChunks(ctx, s.account, msg)
}
