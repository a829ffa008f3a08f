// Package pairing issues one-time codes to unknown direct-message senders and
// records the senders an operator approved.
package pairing

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memohai/memoh-feishu/internal/identifier"
)

// DefaultTTL is how long an unapproved code stays valid.
const DefaultTTL = time.Hour

const maxTokenRetries = 5

var errTokenCollision = errors.New("issue pairing code: token collision after retries")

func newToken() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func normalizeToken(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func normalizeAccount(accountID string) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", errors.New("account id is required")
	}
	return accountID, nil
}

// normalizeSubject validates the pair and reduces the sender to its
// comparison key so "feishu:OU_1" and "ou_1" pair the same user.
func normalizeSubject(accountID, senderID string) (string, string, error) {
	accountID, err := normalizeAccount(accountID)
	if err != nil {
		return "", "", err
	}
	sender := identifier.Key(senderID)
	if sender == "" {
		return "", "", errors.New("sender id is required")
	}
	return accountID, sender, nil
}

func checkApprovable(code Code, now time.Time) error {
	if !code.ApprovedAt.IsZero() {
		return ErrCodeUsed
	}
	if !code.ExpiresAt.IsZero() && !now.Before(code.ExpiresAt) {
		return ErrCodeExpired
	}
	return nil
}

func sortCodes(items []Code) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].Token < items[j].Token
	})
}
