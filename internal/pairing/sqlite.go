package pairing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pairing_codes (
	token TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	approved_at INTEGER
);
CREATE INDEX IF NOT EXISTS pairing_codes_subject ON pairing_codes (account_id, sender_id);
CREATE TABLE IF NOT EXISTS paired_senders (
	account_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	approved_at INTEGER NOT NULL,
	PRIMARY KEY (account_id, sender_id)
);`

// SQLiteStore persists pairing state in a SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the schema.
func OpenSQLiteStore(ctx context.Context, log *slog.Logger, path string, ttl time.Duration) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("pairing db path is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create pairing db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open pairing db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init pairing schema: %w", err)
	}
	return &SQLiteStore{
		db:     db,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.With(slog.String("service", "pairing"), slog.String("store", "sqlite")),
	}, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) IsPaired(ctx context.Context, accountID, senderID string) (bool, error) {
	accountID, sender, err := normalizeSubject(accountID, senderID)
	if err != nil {
		return false, err
	}
	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM paired_senders WHERE account_id = ? AND sender_id = ?`,
		accountID, sender,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query paired sender: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) IssuePairingCode(ctx context.Context, accountID, senderID string) (Code, bool, error) {
	accountID, sender, err := normalizeSubject(accountID, senderID)
	if err != nil {
		return Code{}, false, err
	}
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
SELECT token, account_id, sender_id, created_at, expires_at, approved_at
FROM pairing_codes
WHERE account_id = ? AND sender_id = ? AND approved_at IS NULL AND expires_at > ?
ORDER BY created_at DESC LIMIT 1`, accountID, sender, now.UnixMilli())
	existing, err := scanCode(row)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Code{}, false, fmt.Errorf("query pending pairing code: %w", err)
	}

	expiresAt := now.Add(s.ttl)
	for range maxTokenRetries {
		token := newToken()
		res, err := s.db.ExecContext(ctx, `
INSERT INTO pairing_codes (token, account_id, sender_id, created_at, expires_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (token) DO NOTHING`, token, accountID, sender, now.UnixMilli(), expiresAt.UnixMilli())
		if err != nil {
			return Code{}, false, fmt.Errorf("create pairing code: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			continue
		}
		s.logger.Info("pairing code issued", slog.String("account_id", accountID), slog.String("sender_id", sender))
		return Code{
			Token:     token,
			AccountID: accountID,
			SenderID:  sender,
			ExpiresAt: fromMillis(expiresAt.UnixMilli()),
			CreatedAt: fromMillis(now.UnixMilli()),
		}, true, nil
	}
	return Code{}, false, errTokenCollision
}

func (s *SQLiteStore) Approve(ctx context.Context, token string) (Code, error) {
	token = normalizeToken(token)
	if token == "" {
		return Code{}, ErrCodeNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Code{}, fmt.Errorf("begin pairing approve tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	code, err := scanCode(tx.QueryRowContext(ctx, `
SELECT token, account_id, sender_id, created_at, expires_at, approved_at
FROM pairing_codes WHERE token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return Code{}, ErrCodeNotFound
	}
	if err != nil {
		return Code{}, fmt.Errorf("load pairing code: %w", err)
	}
	now := s.now()
	if err := checkApprovable(code, now); err != nil {
		return Code{}, err
	}
	approvedAt := now.UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`UPDATE pairing_codes SET approved_at = ? WHERE token = ?`, approvedAt, token,
	); err != nil {
		return Code{}, fmt.Errorf("mark pairing code approved: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO paired_senders (account_id, sender_id, approved_at) VALUES (?, ?, ?)
ON CONFLICT (account_id, sender_id) DO UPDATE SET approved_at = excluded.approved_at`,
		code.AccountID, code.SenderID, approvedAt,
	); err != nil {
		return Code{}, fmt.Errorf("pair sender: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Code{}, fmt.Errorf("commit pairing approve tx: %w", err)
	}
	code.ApprovedAt = fromMillis(approvedAt)
	s.logger.Info("pairing code approved", slog.String("account_id", code.AccountID), slog.String("sender_id", code.SenderID))
	return code, nil
}

func (s *SQLiteStore) ListPaired(ctx context.Context, accountID string) ([]string, error) {
	accountID, err := normalizeAccount(accountID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id FROM paired_senders WHERE account_id = ? ORDER BY sender_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list paired senders: %w", err)
	}
	defer rows.Close()
	items := make([]string, 0)
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, err
		}
		items = append(items, sender)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) ListPending(ctx context.Context, accountID string) ([]Code, error) {
	query := `
SELECT token, account_id, sender_id, created_at, expires_at, approved_at
FROM pairing_codes WHERE approved_at IS NULL AND expires_at > ?`
	args := []any{s.now().UnixMilli()}
	if accountID = strings.TrimSpace(accountID); accountID != "" {
		query += ` AND account_id = ?`
		args = append(args, accountID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending pairing codes: %w", err)
	}
	defer rows.Close()
	items := make([]Code, 0)
	for rows.Next() {
		code, err := scanCode(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortCodes(items)
	return items, nil
}

func (s *SQLiteStore) Revoke(ctx context.Context, accountID, senderID string) error {
	accountID, sender, err := normalizeSubject(accountID, senderID)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM paired_senders WHERE account_id = ? AND sender_id = ?`, accountID, sender,
	); err != nil {
		return fmt.Errorf("revoke paired sender: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCode(row rowScanner) (Code, error) {
	var (
		code       Code
		createdAt  int64
		expiresAt  int64
		approvedAt sql.NullInt64
	)
	if err := row.Scan(&code.Token, &code.AccountID, &code.SenderID, &createdAt, &expiresAt, &approvedAt); err != nil {
		return Code{}, err
	}
	code.CreatedAt = fromMillis(createdAt)
	code.ExpiresAt = fromMillis(expiresAt)
	if approvedAt.Valid {
		code.ApprovedAt = fromMillis(approvedAt.Int64)
	}
	return code, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
