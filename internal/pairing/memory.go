package pairing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps pairing state in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	codes  map[string]Code
	paired map[string]map[string]time.Time
	logger *slog.Logger
}

// NewMemoryStore creates an in-memory store. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(log *slog.Logger, ttl time.Duration) *MemoryStore {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		codes:  map[string]Code{},
		paired: map[string]map[string]time.Time{},
		logger: log.With(slog.String("service", "pairing")),
	}
}

func (s *MemoryStore) IsPaired(_ context.Context, accountID, senderID string) (bool, error) {
	accountID, sender, err := normalizeSubject(accountID, senderID)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paired[accountID][sender]
	return ok, nil
}

func (s *MemoryStore) IssuePairingCode(_ context.Context, accountID, senderID string) (Code, bool, error) {
	accountID, sender, err := normalizeSubject(accountID, senderID)
	if err != nil {
		return Code{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, code := range s.codes {
		if code.AccountID == accountID && code.SenderID == sender && code.Pending(now) {
			return code, false, nil
		}
	}
	for range maxTokenRetries {
		token := newToken()
		if _, exists := s.codes[token]; exists {
			continue
		}
		code := Code{
			Token:     token,
			AccountID: accountID,
			SenderID:  sender,
			ExpiresAt: now.Add(s.ttl),
			CreatedAt: now,
		}
		s.codes[token] = code
		s.logger.Info("pairing code issued", slog.String("account_id", accountID), slog.String("sender_id", sender))
		return code, true, nil
	}
	return Code{}, false, errTokenCollision
}

func (s *MemoryStore) Approve(_ context.Context, token string) (Code, error) {
	token = normalizeToken(token)
	if token == "" {
		return Code{}, ErrCodeNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.codes[token]
	if !ok {
		return Code{}, ErrCodeNotFound
	}
	now := s.now()
	if err := checkApprovable(code, now); err != nil {
		return Code{}, err
	}
	code.ApprovedAt = now
	s.codes[token] = code
	if s.paired[code.AccountID] == nil {
		s.paired[code.AccountID] = map[string]time.Time{}
	}
	s.paired[code.AccountID][code.SenderID] = now
	s.logger.Info("pairing code approved", slog.String("account_id", code.AccountID), slog.String("sender_id", code.SenderID))
	return code, nil
}

func (s *MemoryStore) ListPaired(_ context.Context, accountID string) ([]string, error) {
	accountID, err := normalizeAccount(accountID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]string, 0, len(s.paired[accountID]))
	for sender := range s.paired[accountID] {
		items = append(items, sender)
	}
	sort.Strings(items)
	return items, nil
}

func (s *MemoryStore) ListPending(_ context.Context, accountID string) ([]Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	items := make([]Code, 0)
	for _, code := range s.codes {
		if accountID != "" && code.AccountID != accountID {
			continue
		}
		if code.Pending(now) {
			items = append(items, code)
		}
	}
	sortCodes(items)
	return items, nil
}

func (s *MemoryStore) Revoke(_ context.Context, accountID, senderID string) error {
	accountID, sender, err := normalizeSubject(accountID, senderID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.paired[accountID], sender)
	return nil
}
