package channel

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/memohai/memoh-feishu/internal/accounts"
)

var ErrStopNotSupported = errors.New("channel connection stop not supported")

// InboundHandler receives messages that passed the adapter's access policy.
type InboundHandler func(ctx context.Context, account accounts.ResolvedAccount, msg InboundMessage) error

// ReplySender sends replies on behalf of an inbound processor.
type ReplySender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

type Adapter interface {
	Type() Type
}

type Sender interface {
	Send(ctx context.Context, account accounts.ResolvedAccount, msg OutboundMessage) error
}

type Receiver interface {
	Connect(ctx context.Context, account accounts.ResolvedAccount, handler InboundHandler) (Connection, error)
}

// Connection is a live inbound event stream for one account.
type Connection interface {
	AccountID() string
	ChannelType() Type
	Stop(ctx context.Context) error
	Running() bool
}

type BaseConnection struct {
	accountID   string
	channelType Type
	stop        func(ctx context.Context) error
	running     atomic.Bool
}

func NewConnection(channelType Type, accountID string, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		accountID:   accountID,
		channelType: channelType,
		stop:        stop,
	}
	conn.running.Store(true)
	return conn
}

func (c *BaseConnection) AccountID() string {
	return c.accountID
}

func (c *BaseConnection) ChannelType() Type {
	return c.channelType
}

func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	err := c.stop(ctx)
	if err == nil {
		c.running.Store(false)
	}
	return err
}

func (c *BaseConnection) Running() bool {
	return c.running.Load()
}
