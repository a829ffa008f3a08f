package channel

import (
	"context"
	"errors"
	"log/slog"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

type inboundTask struct {
	ctx     context.Context
	account accounts.ResolvedAccount
	msg     InboundMessage
}

// HandleInbound enqueues an accepted inbound message for the worker pool. It
// does not block: a full queue is reported as an error.
func (m *Manager) HandleInbound(ctx context.Context, account accounts.ResolvedAccount, msg InboundMessage) error {
	if m.processor == nil {
		return errors.New("inbound processor not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	m.startInboundWorkers(ctx)
	if m.inboundCtx != nil && m.inboundCtx.Err() != nil {
		return errors.New("inbound dispatcher stopped")
	}
	task := inboundTask{
		ctx:     context.WithoutCancel(ctx),
		account: account,
		msg:     msg,
	}
	select {
	case m.inboundQueue <- task:
		m.markInbound(account.AccountID)
		return nil
	default:
		return errors.New("inbound queue full")
	}
}

func (m *Manager) handleInbound(ctx context.Context, account accounts.ResolvedAccount, msg InboundMessage) error {
	if m.processor == nil {
		return errors.New("inbound processor not configured")
	}
	if err := m.processor.HandleInbound(ctx, account, msg, m.newReplySender(account)); err != nil {
		m.logger.Error("inbound processing failed",
			slog.String("account_id", account.AccountID),
			slog.String("session_id", msg.SessionID()),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

func (m *Manager) startInboundWorkers(ctx context.Context) {
	m.inboundOnce.Do(func() {
		workerCtx := ctx
		if workerCtx == nil {
			workerCtx = context.Background()
		}
		m.inboundCtx, m.inboundCancel = context.WithCancel(workerCtx)
		for i := 0; i < m.inboundWorkers; i++ {
			go m.runInboundWorker(m.inboundCtx)
		}
	})
}

func (m *Manager) runInboundWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-m.inboundQueue:
			_ = m.handleInbound(task.ctx, task.account, task.msg)
		}
	}
}
