// Package storage defines the durable records and store interfaces backing
// the publisher: the idempotency-keyed operation ledger, append-only
// provenance records, and local subscription state.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyFinished indicates an operation entry already reached a terminal
// status. Terminal entries are never overwritten.
var ErrAlreadyFinished = errors.New("operation already finished")

// Operation types. Each type keeps its own idempotency key namespace.
const (
	OperationPublish = "publish"
	OperationMigrate = "migrate"
)

// Status is the lifecycle state of an operation ledger entry.
type Status string

const (
	// StatusPending marks an entry created at pipeline start.
	StatusPending Status = "pending"
	// StatusCompleted marks an entry whose every step succeeded.
	StatusCompleted Status = "completed"
	// StatusPartial marks an entry whose irreversible external post
	// succeeded while a later bookkeeping step failed.
	StatusPartial Status = "partial"
	// StatusFailed marks an entry that failed before the external post.
	StatusFailed Status = "failed"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// OperationKey uniquely identifies one logical operation for deduplication.
type OperationKey struct {
	IdentityID  string
	ChannelID   string
	ContentHash string
	Operation   string
}

// CrossPostResult is the terminal outcome for one cross-post target.
type CrossPostResult struct {
	ChannelID string `json:"channelId"`
	PostID    string `json:"postId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OperationEntry is one durable ledger entry. Entries are created pending and
// transition exactly once to a terminal status; they are retained indefinitely
// for audit and idempotency lookups.
type OperationEntry struct {
	ID               string
	Key              OperationKey
	Status           Status
	ExternalPostID   string
	CrossPostResults []CrossPostResult
	LastError        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OperationOutcome carries the terminal fields recorded when an operation
// finishes.
type OperationOutcome struct {
	Status           Status
	ExternalPostID   string
	CrossPostResults []CrossPostResult
	LastError        string
}

// OperationLedger is the append-only, idempotency-keyed operation log.
type OperationLedger interface {
	// BeginOperation atomically records a pending entry for key. When an
	// entry for the key already exists the stored entry is returned with
	// created=false; two concurrent identical requests can never both
	// observe created=true. A failed entry is re-armed to pending and
	// returned with created=true so the caller can retry; completed and
	// partial entries are never touched. A pending entry orphaned by a
	// crash between begin and finish is not re-armed either; recovering
	// such entries is an external repair process, not an API concern.
	BeginOperation(ctx context.Context, entry OperationEntry) (OperationEntry, bool, error)
	// FinishOperation transitions the pending entry for key to a terminal
	// status. Finishing an already-terminal entry returns
	// ErrAlreadyFinished and leaves the stored entry untouched.
	FinishOperation(ctx context.Context, key OperationKey, outcome OperationOutcome) error
	// GetOperation returns the entry for key, or ErrNotFound.
	GetOperation(ctx context.Context, key OperationKey) (OperationEntry, error)
}

// ProvenanceRecord is a durable claim linking a wallet, channel, and content
// hash to a publish event. Records are append-only and never updated.
type ProvenanceRecord struct {
	ID            string
	WalletAddress string
	ChannelID     string
	ContentHash   string
	CreatedAt     time.Time
}

// ProvenanceStore persists provenance records.
type ProvenanceStore interface {
	AppendProvenance(ctx context.Context, record ProvenanceRecord) error
	ListProvenance(ctx context.Context, walletAddress string) ([]ProvenanceRecord, error)
}

// Subscription statuses for the local subscription record.
const (
	SubscriptionPending = "pending"
	SubscriptionActive  = "active"
)

// SubscriptionRecord tracks one identity's local subscription state alongside
// the on-chain entitlement it mirrors.
type SubscriptionRecord struct {
	IdentityID    string
	WalletAddress string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SubscriptionStore persists local subscription records.
type SubscriptionStore interface {
	PutSubscription(ctx context.Context, record SubscriptionRecord) error
	GetSubscription(ctx context.Context, identityID string) (SubscriptionRecord, error)
}
