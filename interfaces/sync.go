package interfaces

import (
	"context"
	"time"

	"github.com/disqualifier/mailtime/internal/models"
)

// SyncService owns the set of account workers: it starts and stops them as
// accounts are added, removed or hidden, routes commands and aggregates
// status. Commands are non-blocking; outcomes arrive on the event stream.
type SyncService interface {
	Start(ctx context.Context) error
	Stop() error
	// AddAccount validates uniqueness, registers the account and starts
	// its worker immediately when the service is running.
	AddAccount(ctx context.Context, account *models.Account) error
	// RemoveAccount stops the worker, waits (bounded) for it to exit and
	// detaches the account. The cache file is purged only when asked.
	RemoveAccount(ctx context.Context, accountID string, purgeCache bool) error
	// RefreshNow wakes the worker regardless of its poll timer and clears
	// an authentication lockout.
	RefreshNow(ctx context.Context, accountID string) error
	// RefreshAll wakes every visible account's worker.
	RefreshAll(ctx context.Context)
	// SetHidden stops polling for a hidden account (cache retained) and
	// resumes it when unhidden.
	SetHidden(ctx context.Context, accountID string, hidden bool) error
	// Status snapshots every account's connection state.
	Status() map[string]AccountStatus
	// Accounts returns registered accounts in their configured order.
	Accounts() []*models.Account
	// Account returns one registered account.
	Account(accountID string) (*models.Account, error)
	// ServerSearch runs a live server-side search over a dedicated short
	// session, falling back to the cache when the server cannot search.
	ServerSearch(ctx context.Context, accountID, folder, query string) ([]*models.Message, error)
	// Events exposes the stream the workers publish on, for callers that
	// only hold the sync service.
	Events() EventsService
	// PurgeAllCaches deletes every registered account's cache file and
	// returns how many were purged. Accounts stay registered and refetch.
	PurgeAllCaches(ctx context.Context) (int, error)
}

// AccountStatus is the per-account snapshot exposed to the read path.
type AccountStatus struct {
	AccountID   string                 `json:"accountId"`
	Email       string                 `json:"email"`
	Hidden      bool                   `json:"hidden"`
	State       models.SyncState       `json:"state"`
	Folders     map[string]FolderStats `json:"folders,omitempty"`
	LastChecked time.Time              `json:"lastChecked"`
}

// FolderStats summarizes one cached folder.
type FolderStats struct {
	Cached   int        `json:"cached"`
	Unseen   int        `json:"unseen"`
	Cursor   uint32     `json:"cursor"`
	LastSync *time.Time `json:"lastSync,omitempty"`
}
