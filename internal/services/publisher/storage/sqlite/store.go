// Package sqlite provides a SQLite-backed publisher storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlitemigrate "github.com/louisbranch/castgate/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/castgate/internal/services/publisher/storage"
	"github.com/louisbranch/castgate/internal/services/publisher/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists publisher state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite publisher store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func validateKey(key storage.OperationKey) error {
	if strings.TrimSpace(key.IdentityID) == "" {
		return fmt.Errorf("identity id is required")
	}
	if strings.TrimSpace(key.ChannelID) == "" {
		return fmt.Errorf("channel id is required")
	}
	if strings.TrimSpace(key.ContentHash) == "" {
		return fmt.Errorf("content hash is required")
	}
	if key.Operation != storage.OperationPublish && key.Operation != storage.OperationMigrate {
		return fmt.Errorf("unknown operation %q", key.Operation)
	}
	return nil
}

// BeginOperation atomically records a pending ledger entry. The primary key
// on (identity_id, channel_id, content_hash, operation) makes the
// lookup-then-insert race-free: the losing insert observes the winner's row.
// Only failed rows are re-armed; a row stuck in pending after a crash stays
// pending until an external repair process resolves it.
func (s *Store) BeginOperation(ctx context.Context, entry storage.OperationEntry) (storage.OperationEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return storage.OperationEntry{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.OperationEntry{}, false, fmt.Errorf("storage is not configured")
	}
	if err := validateKey(entry.Key); err != nil {
		return storage.OperationEntry{}, false, err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Status = storage.StatusPending
	entry.UpdatedAt = entry.CreatedAt

	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO operations
		   (id, identity_id, channel_id, content_hash, operation, status,
		    external_post_id, cross_post_results, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, '', '[]', '', ?, ?)
		 ON CONFLICT (identity_id, channel_id, content_hash, operation) DO NOTHING`,
		entry.ID,
		entry.Key.IdentityID,
		entry.Key.ChannelID,
		entry.Key.ContentHash,
		entry.Key.Operation,
		string(storage.StatusPending),
		toMillis(entry.CreatedAt),
		toMillis(entry.UpdatedAt),
	)
	if err != nil {
		return storage.OperationEntry{}, false, fmt.Errorf("begin operation: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return storage.OperationEntry{}, false, fmt.Errorf("begin operation rows affected: %w", err)
	}
	if inserted == 0 {
		// A failed entry may be re-armed for a retry attempt. The guarded
		// UPDATE keeps completed and partial entries immutable.
		rearm, err := s.sqlDB.ExecContext(
			ctx,
			`UPDATE operations
			 SET status = ?, external_post_id = '', cross_post_results = '[]', last_error = '', updated_at = ?
			 WHERE identity_id = ? AND channel_id = ? AND content_hash = ? AND operation = ?
			   AND status = ?`,
			string(storage.StatusPending),
			toMillis(time.Now()),
			entry.Key.IdentityID,
			entry.Key.ChannelID,
			entry.Key.ContentHash,
			entry.Key.Operation,
			string(storage.StatusFailed),
		)
		if err != nil {
			return storage.OperationEntry{}, false, fmt.Errorf("rearm failed operation: %w", err)
		}
		rearmed, err := rearm.RowsAffected()
		if err != nil {
			return storage.OperationEntry{}, false, fmt.Errorf("rearm rows affected: %w", err)
		}
		existing, err := s.GetOperation(ctx, entry.Key)
		if err != nil {
			return storage.OperationEntry{}, false, fmt.Errorf("load existing operation: %w", err)
		}
		return existing, rearmed == 1, nil
	}
	return entry, true, nil
}

// FinishOperation transitions a pending entry to a terminal status. The
// guarded UPDATE only matches pending rows, so a terminal entry can never be
// rewritten with a conflicting status.
func (s *Store) FinishOperation(ctx context.Context, key storage.OperationKey, outcome storage.OperationOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if !outcome.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", outcome.Status)
	}
	crossResults := outcome.CrossPostResults
	if crossResults == nil {
		crossResults = []storage.CrossPostResult{}
	}
	encoded, err := json.Marshal(crossResults)
	if err != nil {
		return fmt.Errorf("encode cross post results: %w", err)
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE operations
		 SET status = ?, external_post_id = ?, cross_post_results = ?, last_error = ?, updated_at = ?
		 WHERE identity_id = ? AND channel_id = ? AND content_hash = ? AND operation = ?
		   AND status = ?`,
		string(outcome.Status),
		outcome.ExternalPostID,
		string(encoded),
		outcome.LastError,
		toMillis(time.Now()),
		key.IdentityID,
		key.ChannelID,
		key.ContentHash,
		key.Operation,
		string(storage.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("finish operation: %w", err)
	}
	updated, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish operation rows affected: %w", err)
	}
	if updated == 0 {
		if _, err := s.GetOperation(ctx, key); errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return storage.ErrAlreadyFinished
	}
	return nil
}

// GetOperation returns the ledger entry for key.
func (s *Store) GetOperation(ctx context.Context, key storage.OperationKey) (storage.OperationEntry, error) {
	if err := ctx.Err(); err != nil {
		return storage.OperationEntry{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.OperationEntry{}, fmt.Errorf("storage is not configured")
	}
	if err := validateKey(key); err != nil {
		return storage.OperationEntry{}, err
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, status, external_post_id, cross_post_results, last_error, created_at, updated_at
		 FROM operations
		 WHERE identity_id = ? AND channel_id = ? AND content_hash = ? AND operation = ?`,
		key.IdentityID,
		key.ChannelID,
		key.ContentHash,
		key.Operation,
	)

	var (
		entry        storage.OperationEntry
		status       string
		crossResults string
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(&entry.ID, &status, &entry.ExternalPostID, &crossResults, &entry.LastError, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.OperationEntry{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.OperationEntry{}, fmt.Errorf("get operation: %w", err)
	}
	entry.Key = key
	entry.Status = storage.Status(status)
	entry.CreatedAt = fromMillis(createdAt)
	entry.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(crossResults), &entry.CrossPostResults); err != nil {
		return storage.OperationEntry{}, fmt.Errorf("decode cross post results: %w", err)
	}
	return entry, nil
}

// AppendProvenance records one append-only provenance claim.
func (s *Store) AppendProvenance(ctx context.Context, record storage.ProvenanceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.WalletAddress) == "" {
		return fmt.Errorf("wallet address is required")
	}
	if strings.TrimSpace(record.ChannelID) == "" {
		return fmt.Errorf("channel id is required")
	}
	if strings.TrimSpace(record.ContentHash) == "" {
		return fmt.Errorf("content hash is required")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO provenance_records (id, wallet_address, channel_id, content_hash, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		record.ID,
		record.WalletAddress,
		record.ChannelID,
		record.ContentHash,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append provenance: %w", err)
	}
	return nil
}

// ListProvenance returns the provenance records claimed by a wallet, newest
// first.
func (s *Store) ListProvenance(ctx context.Context, walletAddress string) ([]storage.ProvenanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(walletAddress) == "" {
		return nil, fmt.Errorf("wallet address is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, wallet_address, channel_id, content_hash, created_at
		 FROM provenance_records
		 WHERE wallet_address = ?
		 ORDER BY created_at DESC, id`,
		walletAddress,
	)
	if err != nil {
		return nil, fmt.Errorf("list provenance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.ProvenanceRecord
	for rows.Next() {
		var (
			record    storage.ProvenanceRecord
			createdAt int64
		)
		if err := rows.Scan(&record.ID, &record.WalletAddress, &record.ChannelID, &record.ContentHash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provenance: %w", err)
	}
	return records, nil
}

// PutSubscription upserts one local subscription record.
func (s *Store) PutSubscription(ctx context.Context, record storage.SubscriptionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.IdentityID) == "" {
		return fmt.Errorf("identity id is required")
	}
	if strings.TrimSpace(record.WalletAddress) == "" {
		return fmt.Errorf("wallet address is required")
	}
	if record.Status != storage.SubscriptionPending && record.Status != storage.SubscriptionActive {
		return fmt.Errorf("unknown subscription status %q", record.Status)
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO subscriptions (identity_id, wallet_address, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (identity_id) DO UPDATE SET
		   wallet_address = excluded.wallet_address,
		   status = excluded.status,
		   updated_at = excluded.updated_at`,
		record.IdentityID,
		record.WalletAddress,
		record.Status,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put subscription: %w", err)
	}
	return nil
}

// GetSubscription returns the local subscription record for an identity.
func (s *Store) GetSubscription(ctx context.Context, identityID string) (storage.SubscriptionRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.SubscriptionRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SubscriptionRecord{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(identityID) == "" {
		return storage.SubscriptionRecord{}, fmt.Errorf("identity id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT identity_id, wallet_address, status, created_at, updated_at
		 FROM subscriptions
		 WHERE identity_id = ?`,
		identityID,
	)
	var (
		record    storage.SubscriptionRecord
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&record.IdentityID, &record.WalletAddress, &record.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.SubscriptionRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SubscriptionRecord{}, fmt.Errorf("get subscription: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
