package pairing

import (
	"context"
	"errors"
	"time"
)

// Errors returned by pairing operations.
var (
	ErrCodeNotFound = errors.New("pairing code not found")
	ErrCodeUsed     = errors.New("pairing code already approved")
	ErrCodeExpired  = errors.New("pairing code expired")
)

// Code is a one-time pairing code issued to an unknown direct-message sender.
type Code struct {
	Token      string    `json:"token"`
	AccountID  string    `json:"account_id"`
	SenderID   string    `json:"sender_id"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
	ApprovedAt time.Time `json:"approved_at,omitzero"`
	CreatedAt  time.Time `json:"created_at"`
}

// Pending reports whether the code still awaits approval at now.
func (c Code) Pending(now time.Time) bool {
	return c.ApprovedAt.IsZero() && (c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt))
}

// Store records pairing codes and approved senders per account.
type Store interface {
	// IsPaired reports whether senderID was approved for accountID.
	IsPaired(ctx context.Context, accountID, senderID string) (bool, error)
	// IssuePairingCode returns the sender's live pending code, or issues a new
	// one. created is true only for a newly issued code.
	IssuePairingCode(ctx context.Context, accountID, senderID string) (code Code, created bool, err error)
	// Approve consumes a code and pairs its sender.
	Approve(ctx context.Context, token string) (Code, error)
	// ListPaired returns the approved senders of accountID, sorted.
	ListPaired(ctx context.Context, accountID string) ([]string, error)
	// ListPending returns unexpired, unapproved codes. A blank accountID lists all accounts.
	ListPending(ctx context.Context, accountID string) ([]Code, error)
	// Revoke removes a paired sender. Revoking an unknown sender is not an error.
	Revoke(ctx context.Context, accountID, senderID string) error
}
